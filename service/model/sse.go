package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

const (
	EventTextDelta = "response.output_text.delta"
	EventTextDone  = "response.output_text.done"
	EventCompleted = "response.completed"
	EventFailed    = "response.failed"
)

var dataPrefix = regexp.MustCompile(`^data:\s?`)

type streamEvent struct {
	Type  string  `json:"type"`
	Delta *string `json:"delta"`
	Text  *string `json:"text"`
}

// splitFrames 帧以空行分隔；流结束时未闭合的尾帧丢弃
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// readStream 累积 delta，done 带非空 text 时整体替换，completed/failed 立即返回
func readStream(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	sc.Split(splitFrames)

	var out strings.Builder
	for sc.Scan() {
		for _, line := range strings.Split(sc.Text(), "\n") {
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			dl := dataPrefix.ReplaceAllString(line, "")
			if dl == "" || dl == "[DONE]" {
				continue
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(dl), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case EventTextDelta:
				if ev.Delta != nil {
					out.WriteString(*ev.Delta)
				}
			case EventTextDone:
				if ev.Text != nil && *ev.Text != "" {
					out.Reset()
					out.WriteString(*ev.Text)
				}
			case EventCompleted, EventFailed:
				return out.String(), nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

type responseBody struct {
	OutputText *string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string  `json:"type"`
			Text *string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// extractText 非流式响应：优先 output_text，否则拼接 output[].content[] 中的 output_text
func extractText(body []byte) (string, error) {
	var resp responseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.OutputText != nil {
		return *resp.OutputText, nil
	}
	var sb strings.Builder
	for _, item := range resp.Output {
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != nil {
				sb.WriteString(*c.Text)
			}
		}
	}
	return sb.String(), nil
}
