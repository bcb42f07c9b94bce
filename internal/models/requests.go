package models

type ChatRequest struct {
	Messages []Turn `json:"messages"`
}

type ChatResponse struct {
	Message string `json:"message"`
}

type CreateConversationRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type CreateMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
}

type TurnRequest struct {
	Content string `json:"content"`
}

// TurnResponse carries both halves of a server-side orchestrated turn.
type TurnResponse struct {
	User      *Message `json:"user"`
	Assistant *Message `json:"assistant"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
