// Package archive は処理済み画像のコピーをS3互換ストレージへ保存する。
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter はS3クライアントのうちArchiverが使用するメソッド。
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Settings はS3Archiverの接続設定。
type Settings struct {
	Bucket          string
	Region          string
	Endpoint        string // MinIOなどS3互換ストレージ向け。空の場合はAWSのデフォルト
	AccessKeyID     string // 空の場合はデフォルトの認証情報チェーンを使う
	SecretAccessKey string
	Prefix          string
}

// S3Archiver は処理済み画像をS3へ保存する。
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archiver はSettingsからS3クライアントを構築してS3Archiverを生成する。
func NewS3Archiver(ctx context.Context, s Settings, logger *slog.Logger) (*S3Archiver, error) {
	if s.Bucket == "" {
		return nil, errors.New("archive bucket is not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s.Region),
	}
	if s.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3ArchiverWithClient(client, s.Bucket, s.Prefix, logger), nil
}

// NewS3ArchiverWithClient は既存のクライアントからS3Archiverを生成する。
func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string, logger *slog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key はユーザーと出力ファイル名からオブジェクトキーを組み立てる。
func (a *S3Archiver) Key(userID, name string) string {
	return path.Join(a.prefix, userID, path.Base(name))
}

// Archive はdataを <prefix>/<userID>/<name> に保存し、s3://bucket/key 形式の参照を返す。
func (a *S3Archiver) Archive(ctx context.Context, userID, name string, data []byte) (string, error) {
	key := a.Key(userID, name)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/png"),
	})
	if err != nil {
		a.logger.Error("処理済み画像のアーカイブに失敗しました",
			slog.String("bucket", a.bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	ref := "s3://" + a.bucket + "/" + key
	a.logger.Debug("処理済み画像をアーカイブしました", slog.String("ref", ref))
	return ref, nil
}
