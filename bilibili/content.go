package bilibili

import (
	"encoding/json"
	"fmt"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

// ParseContent extracts a readable text from a message's raw JSON payload.
// Only text messages (msg_type 1) participate in rule matching; the other
// types are rendered for display and logging.
func ParseContent(msgType int, raw string) string {
	switch msgType {
	case domain.MsgTypeText:
		var body struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return raw
		}
		return body.Content
	case domain.MsgTypeImage:
		var body struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return "[图片]"
		}
		return "[图片] " + body.URL
	case domain.MsgTypeNotify:
		var body struct {
			Text  string `json:"text"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return raw
		}
		if body.Text != "" {
			return body.Text
		}
		return body.Title
	case domain.MsgTypeVideo:
		var body struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return raw
		}
		return "[视频推送] " + body.Title
	case domain.MsgTypeSystem:
		return parseSystemContent(raw)
	default:
		return fmt.Sprintf("[消息类型%d] %s", msgType, raw)
	}
}

func parseSystemContent(raw string) string {
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return "[系统消息] " + raw
	}

	// System messages nest either a plain string or a list of text parts.
	var text string
	if err := json.Unmarshal(body.Content, &text); err == nil {
		return "[系统消息] " + text
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body.Content, &parts); err == nil {
		out := "[系统消息]"
		for _, p := range parts {
			if p.Text != "" {
				out += " " + p.Text
			}
		}
		return out
	}

	return "[系统消息] " + raw
}
