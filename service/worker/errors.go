package worker

import "fmt"

// 死信原因
const (
	ReasonInvalidMessage   = "InvalidMessage"
	ReasonProcessingFailed = "ProcessingFailed"
)

// 失败阶段
const (
	StageModel   = "model"
	StageParse   = "parse"
	StagePublish = "publish"
)

const maxDeadLetterDesc = 1000

// ProcessingError 单条请求处理失败；按投递次数决定重投还是死信
type ProcessingError struct {
	RequestID string
	SessionID string
	Stage     string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed: stage=%s requestId=%s: %v", e.Stage, e.RequestID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
