package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
)

const (
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	refererIM  = "https://message.bilibili.com/"
	defTimeout = 15 * time.Second
)

// Client talks to the Bilibili private-message API on behalf of one account.
// It implements repo.MessageGateway.
type Client struct {
	http *resty.Client
	uid  string
	csrf string
	log  zerolog.Logger
}

// NewClient builds a client authenticated with the account's cookies
func NewClient(acct *domain.Account, log zerolog.Logger) *Client {
	c := resty.New().
		SetTimeout(defTimeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Referer", refererIM)

	cookies := make([]*http.Cookie, 0, len(acct.Cookies))
	for name, value := range acct.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Domain: ".bilibili.com", Path: "/"})
	}
	c.SetCookies(cookies)

	return &Client{
		http: c,
		uid:  acct.UID,
		csrf: acct.CSRF(),
		log:  log.With().Str("account", acct.UID).Logger(),
	}
}

// FetchSessions lists conversations, most recently active first
func (c *Client) FetchSessions(ctx context.Context, sessionType, size int) ([]domain.Talker, error) {
	var data sessionListData
	err := c.getJSON(ctx, "get_sessions", urlGetSessions, map[string]string{
		"session_type":  strconv.Itoa(sessionType),
		"group_fold":    "0",
		"unfollow_fold": "0",
		"sort_rule":     "2",
		"size":          strconv.Itoa(size),
		"build":         "0",
		"mobi_app":      "web",
	}, &data)
	if err != nil {
		return nil, err
	}

	talkers := make([]domain.Talker, 0, len(data.SessionList))
	for _, s := range data.SessionList {
		t := domain.Talker{
			ID:          s.TalkerID,
			SessionType: s.SessionType,
			Name:        s.Uname,
			UnreadCount: s.UnreadCount,
		}
		if s.SessionType == domain.SessionTypeFanGroup {
			t.Name = "[粉丝团] " + s.GroupName
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("用户%d", s.TalkerID)
		}
		if s.LastMsg != nil && s.LastMsg.Timestamp > 0 {
			t.LastMsgAt = time.Unix(s.LastMsg.Timestamp, 0)
		}
		talkers = append(talkers, t)
	}
	return talkers, nil
}

// FetchMessages returns a talker's messages newer than beginSeqno, oldest first
func (c *Client) FetchMessages(ctx context.Context, talkerID int64, sessionType, size int, beginSeqno int64) ([]domain.DirectMessage, error) {
	params := map[string]string{
		"talker_id":        strconv.FormatInt(talkerID, 10),
		"session_type":     strconv.Itoa(sessionType),
		"size":             strconv.Itoa(size),
		"sender_device_id": "1",
		"build":            "0",
		"mobi_app":         "web",
	}
	if beginSeqno > 0 {
		params["begin_seqno"] = strconv.FormatInt(beginSeqno, 10)
	}

	var data messagesData
	if err := c.getJSON(ctx, "fetch_session_msgs", urlFetchMsgs, params, &data); err != nil {
		return nil, err
	}

	// The API delivers newest first; the poller wants arrival order.
	msgs := make([]domain.DirectMessage, 0, len(data.Messages))
	for i := len(data.Messages) - 1; i >= 0; i-- {
		m := data.Messages[i]
		if m.MsgSeqno <= beginSeqno {
			continue
		}
		msgs = append(msgs, domain.DirectMessage{
			SeqNo:     m.MsgSeqno,
			MsgKey:    m.MsgKey,
			TalkerID:  talkerID,
			SenderUID: strconv.FormatInt(m.SenderUID, 10),
			MsgType:   m.MsgType,
			Content:   m.Content,
			Text:      ParseContent(m.MsgType, m.Content),
			At:        time.Unix(m.Timestamp, 0),
		})
	}
	return msgs, nil
}

// SendText sends a text message. The payload mirrors the web client:
// JSON-wrapped content, CSRF token twice, a fresh uppercase UUID dev_id.
func (c *Client) SendText(ctx context.Context, talkerID int64, receiverType int, text string) error {
	if c.uid == "" {
		return &SendError{Code: -1, Message: "sender uid missing"}
	}
	if c.csrf == "" {
		return &SendError{Code: -1, Message: "csrf token missing"}
	}

	content, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return &SendError{Code: -1, Message: err.Error()}
	}

	form := map[string]string{
		"msg[sender_uid]":       c.uid,
		"msg[receiver_id]":      strconv.FormatInt(talkerID, 10),
		"msg[receiver_type]":    strconv.Itoa(receiverType),
		"msg[msg_type]":         "1",
		"msg[msg_status]":       "0",
		"msg[content]":          string(content),
		"msg[timestamp]":        strconv.FormatInt(time.Now().Unix(), 10),
		"msg[new_face_version]": "0",
		"msg[dev_id]":           strings.ToUpper(uuid.NewString()),
		"csrf":                  c.csrf,
		"csrf_token":            c.csrf,
	}

	resp, err := c.http.R().SetContext(ctx).SetFormData(form).Post(urlSendMsg)
	if err != nil {
		return &TransientError{Op: "send_msg", Err: err}
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return &TransientError{Op: "send_msg", Err: fmt.Errorf("http %d", resp.StatusCode())}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &TransientError{Op: "send_msg", Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Code != 0 {
		if env.Code == codeNotLoggedIn {
			return fmt.Errorf("send_msg: code %d: %s: %w", env.Code, env.Message, ErrSessionExpired)
		}
		return &SendError{Code: env.Code, Message: env.Message}
	}

	c.log.Debug().Int64("talker", talkerID).Msg("message sent")
	return nil
}

// UnreadCount returns the total number of unread private messages
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var data unreadData
	err := c.getJSON(ctx, "single_unread", urlSingleUnread, map[string]string{
		"unread_type":        "0",
		"show_unfollow_list": "1",
		"show_dustbin":       "1",
		"build":              "0",
		"mobi_app":           "web",
	}, &data)
	if err != nil {
		return 0, err
	}
	return data.FollowUnread + data.UnfollowUnread, nil
}

// Verify confirms the stored cookies still authenticate.
// Returns ErrSessionExpired when they do not.
func (c *Client) Verify(ctx context.Context) (string, error) {
	var data navData
	if err := c.getJSON(ctx, "nav", urlNav, nil, &data); err != nil {
		return "", err
	}
	if !data.IsLogin {
		return "", ErrSessionExpired
	}
	return data.Uname, nil
}

// getJSON performs a GET, unwraps the API envelope and decodes data into out
func (c *Client) getJSON(ctx context.Context, op, url string, params map[string]string, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Op: op, Err: err}
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return &TransientError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode())}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Code != 0 {
		return classifyFetchCode(op, env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &TransientError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}
