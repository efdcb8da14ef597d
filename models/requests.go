package models

// Outbound envelope tags.
const (
	TypeStartConnection     = "start_connection"
	TypeStartNewSession     = "start_new_session"
	TypeFetchSidebarHistory = "fetch_sidebar_history"
	TypeFetchConversation   = "fetch_conversation"
	TypeFetchAllMessages    = "fetch_all_messages"
	TypeAIRequest           = "ai_request"
	TypeDeleteMessage       = "delete_message"
	TypeDeleteContent       = "delete_content"
	TypeEditContent         = "edit_content"
	TypeDisconnect          = "disconnect"
)

type StartConnection struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type StartNewSession struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	UserID uint64 `json:"user_id"`
}

type FetchSidebarHistory struct {
	Type   string `json:"type"`
	UserID uint64 `json:"user_id"`
}

type FetchConversation struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type FetchAllMessages struct {
	Type string `json:"type"`
}

// AIRequest asks the assistant to answer Prompt inside conversation SessionID.
// An empty SessionID starts a new conversation on the peer.
type AIRequest struct {
	Type      string `json:"type"`
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

type DeleteMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// DeleteContent removes a conversation (or a message) by id.
type DeleteContent struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// EditContent renames the conversation identified by MessageID.
type EditContent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type Disconnect struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    uint64 `json:"user_id"`
}

func NewStartConnection(token string) StartConnection {
	return StartConnection{Type: TypeStartConnection, Token: token}
}

func NewStartNewSession(token string, userID uint64) StartNewSession {
	return StartNewSession{Type: TypeStartNewSession, Token: token, UserID: userID}
}

func NewFetchSidebarHistory(userID uint64) FetchSidebarHistory {
	return FetchSidebarHistory{Type: TypeFetchSidebarHistory, UserID: userID}
}

func NewFetchConversation(conversationID string) FetchConversation {
	return FetchConversation{Type: TypeFetchConversation, ConversationID: conversationID}
}

func NewFetchAllMessages() FetchAllMessages {
	return FetchAllMessages{Type: TypeFetchAllMessages}
}

func NewAIRequest(prompt, sessionID string) AIRequest {
	return AIRequest{Type: TypeAIRequest, Prompt: prompt, SessionID: sessionID}
}

func NewDeleteMessage(messageID string) DeleteMessage {
	return DeleteMessage{Type: TypeDeleteMessage, MessageID: messageID}
}

func NewDeleteContent(targetID string) DeleteContent {
	return DeleteContent{Type: TypeDeleteContent, TargetID: targetID}
}

func NewEditContent(messageID, content string) EditContent {
	return EditContent{Type: TypeEditContent, MessageID: messageID, Content: content}
}

func NewDisconnect(sessionID string, userID uint64) Disconnect {
	return Disconnect{Type: TypeDisconnect, SessionID: sessionID, UserID: userID}
}
