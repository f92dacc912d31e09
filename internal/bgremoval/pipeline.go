// Package bgremoval は背景除去リクエスト1件の処理を順に実行する。
//
// 認証確認 → 画像受信 → remove.bg呼び出し → 結果の送信 → アクティビティ記録
// の順に進み、リクエスト中に作成した一時ファイルはどの経路で終了しても削除される。
package bgremoval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/bgremover/internal/metrics"
	"github.com/hitoshi/bgremover/internal/model"
	"github.com/hitoshi/bgremover/internal/removebg"
	"github.com/hitoshi/bgremover/internal/result"
	"github.com/hitoshi/bgremover/internal/staging"
	"github.com/hitoshi/bgremover/internal/upload"
)

const (
	defaultRecordTimeout = 10 * time.Second
	// maxURLBodySize はURL指定時のJSONボディの上限。
	maxURLBodySize = 8 * 1024
)

// Processor は背景除去APIの呼び出しインターフェース。
type Processor interface {
	Process(ctx context.Context, src removebg.Source) ([]byte, error)
}

// ActivityRecorder はアクティビティ記録のインターフェース。
type ActivityRecorder interface {
	Record(ctx context.Context, userID string, kind model.ActionKind, resourceRef string) (*model.Activity, error)
}

// Archiver は処理済み画像の保存先。
type Archiver interface {
	Archive(ctx context.Context, userID, name string, data []byte) (string, error)
}

// URLValidator は画像URLの安全性を検証する。
type URLValidator interface {
	ValidateImageURL(ctx context.Context, rawURL string) error
}

// Deps はPipelineの依存関係。
type Deps struct {
	Store        *staging.Store
	Receiver     *upload.Receiver
	Vendor       Processor // nilの場合は設定エラーとして扱う
	Materializer *result.Materializer
	Recorder     ActivityRecorder
	Archiver     Archiver                 // 任意
	URLValidator URLValidator             // nilの場合はURL指定を受け付けない
	Metrics      metrics.MetricsCollector // 任意
	Logger       *slog.Logger
	// RecordTimeout はレスポンス送信後の記録処理に与える時間。
	RecordTimeout time.Duration
}

// Pipeline は背景除去リクエストを処理する。複数リクエストから同時に使用してよい。
type Pipeline struct {
	deps Deps
}

// NewPipeline はPipelineを生成する。
func NewPipeline(deps Deps) *Pipeline {
	if deps.RecordTimeout <= 0 {
		deps.RecordTimeout = defaultRecordTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}
}

// input は受信段階で決まる入力画像の情報。
type input struct {
	source       removebg.Source
	resourceRef  string
	downloadName string
}

// run は1リクエスト分の状態を保持する。
type run struct {
	state  State
	userID string
	logger *slog.Logger
}

func (rn *run) transition(to State) {
	if !canTransition(rn.state, to) {
		// 実装の誤り以外では起きない
		panic(fmt.Sprintf("invalid state transition: %s -> %s", rn.state, to))
	}
	rn.logger.Debug("背景除去の状態遷移",
		slog.String("from", rn.state.String()),
		slog.String("to", to.String()),
	)
	rn.state = to
}

// Run はリクエストを処理し、成功時は処理済み画像をwに送信する。
//
// 送信を開始する前に失敗した場合は*model.APIErrorを返し、wには何も書き込まない。
// 呼び出し元はエラーレスポンスを書き込むこと。
// 送信開始後の失敗（クライアント切断など）はログに記録してnilを返す。
// アクティビティ記録の失敗はレスポンスに影響しない。
func (p *Pipeline) Run(w http.ResponseWriter, r *http.Request, userID string) (err error) {
	rn := &run{
		state:  StateAwaitingAuth,
		userID: userID,
		logger: p.deps.Logger.With(slog.String("user_id", userID)),
	}
	defer func() {
		if err != nil {
			rn.transition(StateFailed)
			p.recordOutcome(outcomeFor(err))
			rn.logger.Warn("背景除去に失敗しました", slog.String("error", err.Error()))
		}
	}()

	if userID == "" {
		return model.NewUnauthorizedError()
	}
	rn.transition(StateReceiving)

	scope := p.deps.Store.NewScope(rn.logger)
	if p.deps.Metrics != nil {
		scope.OnRemoveFailure(func(string, error) { p.deps.Metrics.RecordCleanupFailure() })
	}
	defer scope.Release()

	in, err := p.receive(r, scope)
	if err != nil {
		return err
	}
	rn.transition(StateProcessing)

	data, err := p.process(r.Context(), in.source)
	if err != nil {
		return err
	}
	rn.transition(StateMaterializing)

	artifact, err := p.deps.Materializer.Write(scope, data)
	if err != nil {
		if errors.Is(err, result.ErrEmptyResult) {
			return model.NewEmptyResultError()
		}
		rn.logger.Error("処理済み画像の書き出しに失敗しました", slog.String("error", err.Error()))
		return model.NewInternalError()
	}

	written, streamErr := p.deps.Materializer.Serve(w, artifact, in.downloadName)
	// 送信が終わった時点で入出力の一時ファイルを削除する
	scope.Release()

	outcome := metrics.OutcomeSuccess
	if streamErr != nil {
		outcome = metrics.OutcomeClientAborted
		rn.logger.Warn("処理済み画像の送信が中断されました",
			slog.Int64("written_bytes", written),
			slog.String("error", streamErr.Error()),
		)
	} else if p.deps.Metrics != nil {
		p.deps.Metrics.RecordBytesProcessed(int(written))
	}
	rn.transition(StateRecording)

	p.record(r.Context(), rn, artifact.Name, data, in.resourceRef)

	rn.transition(StateDone)
	p.recordOutcome(outcome)
	return nil
}

// receive はリクエストのContent-Typeに応じてファイルまたはURLを受け取る。
func (p *Pipeline) receive(r *http.Request, scope *staging.Scope) (*input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return p.receiveURL(r)
	}

	f, err := p.deps.Receiver.Receive(r, scope)
	if err != nil {
		return nil, err
	}
	return &input{
		source:       removebg.FileSource{Path: f.Path, Name: f.OriginalName},
		resourceRef:  f.OriginalName,
		downloadName: downloadName(f.OriginalName),
	}, nil
}

type urlRequest struct {
	ImageURL string `json:"imageUrl"`
}

func (p *Pipeline) receiveURL(r *http.Request) (*input, error) {
	if p.deps.URLValidator == nil {
		return nil, model.NewValidationError("画像URLの指定は無効になっています。ファイルをアップロードしてください")
	}

	var req urlRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxURLBodySize)).Decode(&req); err != nil {
		return nil, model.NewValidationError("リクエストボディのJSONが不正です")
	}
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL == "" {
		return nil, model.NewMissingInputError("画像URL")
	}
	if err := p.deps.URLValidator.ValidateImageURL(r.Context(), req.ImageURL); err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("画像URLが不正です: %v", err))
	}

	name := ""
	if u, err := url.Parse(req.ImageURL); err == nil {
		name = path.Base(u.Path)
	}
	return &input{
		source:       removebg.URLSource{URL: req.ImageURL},
		resourceRef:  req.ImageURL,
		downloadName: downloadName(name),
	}, nil
}

// process はAPIを呼び出し、エラーをAPIErrorに変換する。
func (p *Pipeline) process(ctx context.Context, src removebg.Source) ([]byte, error) {
	if p.deps.Vendor == nil {
		return nil, model.NewConfigurationError("remove.bg client is not configured")
	}

	data, err := p.deps.Vendor.Process(ctx, src)
	if err == nil {
		return data, nil
	}

	var vendorErr *removebg.VendorError
	var transportErr *removebg.TransportError
	switch {
	case errors.Is(err, removebg.ErrEmptyInput):
		return nil, model.NewEmptyInputError()
	case errors.Is(err, removebg.ErrMissingAPIKey):
		return nil, model.NewConfigurationError(err.Error())
	case errors.Is(err, removebg.ErrResultTooLarge):
		return nil, model.NewResultTooLargeError(err.Error())
	case errors.As(err, &vendorErr):
		return nil, model.NewVendorError(vendorErr.StatusCode, vendorErr.Body)
	case errors.As(err, &transportErr):
		return nil, model.NewTransportError(transportErr.Err.Error())
	default:
		p.deps.Logger.Error("背景除去処理で予期しないエラーが発生しました", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
}

// record はアーカイブとアクティビティ記録を行う。
// クライアントの切断に影響されないよう、キャンセルを切り離したコンテキストで実行する。
func (p *Pipeline) record(parent context.Context, rn *run, name string, data []byte, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.deps.RecordTimeout)
	defer cancel()

	if p.deps.Archiver != nil {
		archived, err := p.deps.Archiver.Archive(ctx, rn.userID, name, data)
		if err != nil {
			rn.logger.Error("処理済み画像のアーカイブに失敗しました", slog.String("error", err.Error()))
		} else {
			ref = archived
		}
	}

	if p.deps.Recorder == nil {
		return
	}
	if _, err := p.deps.Recorder.Record(ctx, rn.userID, model.ActionBackgroundRemoval, ref); err != nil {
		rn.logger.Error("アクティビティの記録に失敗しました", slog.String("error", err.Error()))
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordActivityFailure()
		}
	}
}

func (p *Pipeline) recordOutcome(outcome string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordRemoval(outcome)
	}
}

// outcomeFor はエラーに対応するメトリクスの結果ラベルを返す。
func outcomeFor(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return metrics.OutcomeInternalError
	}
	switch apiErr.Code {
	case model.ErrCodeVendor:
		return metrics.OutcomeVendorError
	case model.ErrCodeTransport:
		return metrics.OutcomeTransportError
	case model.ErrCodeEmptyResult:
		return metrics.OutcomeEmptyResult
	case model.ErrCodeInternal, model.ErrCodeConfiguration:
		return metrics.OutcomeInternalError
	default:
		return metrics.OutcomeValidationError
	}
}

// downloadName は元のファイル名から "<名前>-no-bg.png" を作る。
func downloadName(original string) string {
	base := strings.TrimSuffix(original, path.Ext(original))
	if base == "" || base == "." || base == "/" {
		return "processed.png"
	}
	return base + "-no-bg.png"
}
