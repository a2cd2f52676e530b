package bilibili

import "encoding/json"

// API endpoints of the private-message and passport services
const (
	urlGetSessions  = "https://api.vc.bilibili.com/session_svr/v1/session_svr/get_sessions"
	urlFetchMsgs    = "https://api.vc.bilibili.com/svr_sync/v1/svr_sync/fetch_session_msgs"
	urlSendMsg      = "https://api.vc.bilibili.com/web_im/v1/web_im/send_msg"
	urlSingleUnread = "https://api.vc.bilibili.com/session_svr/v1/session_svr/single_unread"
	urlNav          = "https://api.bilibili.com/x/web-interface/nav"
	urlQRGenerate   = "https://passport.bilibili.com/x/passport-login/web/qrcode/generate"
	urlQRPoll       = "https://passport.bilibili.com/x/passport-login/web/qrcode/poll"
)

// envelope is the common response wrapper of all Bilibili APIs
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type sessionListData struct {
	SessionList []sessionEntry `json:"session_list"`
}

type sessionEntry struct {
	TalkerID    int64   `json:"talker_id"`
	SessionType int     `json:"session_type"`
	Uname       string  `json:"uname"`
	GroupName   string  `json:"group_name"`
	UnreadCount int     `json:"unread_count"`
	LastMsg     *rawMsg `json:"last_msg"`
}

type messagesData struct {
	Messages []rawMsg `json:"messages"`
	MaxSeqno int64    `json:"max_seqno"`
}

type rawMsg struct {
	SenderUID  int64  `json:"sender_uid"`
	ReceiverID int64  `json:"receiver_id"`
	MsgType    int    `json:"msg_type"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	MsgKey     int64  `json:"msg_key"`
	MsgSeqno   int64  `json:"msg_seqno"`
}

type unreadData struct {
	UnfollowUnread int `json:"unfollow_unread"`
	FollowUnread   int `json:"follow_unread"`
}

type navData struct {
	IsLogin bool   `json:"isLogin"`
	Mid     int64  `json:"mid"`
	Uname   string `json:"uname"`
}

type qrGenerateData struct {
	URL       string `json:"url"`
	QRCodeKey string `json:"qrcode_key"`
}

type qrPollData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	URL     string `json:"url"`
}
