package bgremoval

// State は背景除去リクエストの処理段階を表す。
type State int

const (
	StateAwaitingAuth State = iota
	StateReceiving
	StateProcessing
	StateMaterializing
	StateRecording
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateReceiving:
		return "receiving"
	case StateProcessing:
		return "processing"
	case StateMaterializing:
		return "materializing"
	case StateRecording:
		return "recording"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal はDoneまたはFailedであればtrueを返す。
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next は各状態から成功時に進む状態。
var next = map[State]State{
	StateAwaitingAuth:  StateReceiving,
	StateReceiving:     StateProcessing,
	StateProcessing:    StateMaterializing,
	StateMaterializing: StateRecording,
	StateRecording:     StateDone,
}

// canTransition はfromからtoへの遷移が許可されているかを返す。
// Failedは終端以外のすべての状態から遷移できる。
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}
