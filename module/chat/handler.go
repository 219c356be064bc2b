package chat

import (
	"net/http"
	"strconv"

	mid "ChatX/middleware"
	midsec "ChatX/middleware/security"
	"ChatX/module/chat/service"
	"ChatX/tools/errs"
	jwtlib "ChatX/tools/security"

	"github.com/gin-gonic/gin"
)

// Handler 会话/消息/申请域 HTTP 接口。全部需要鉴权。
type Handler struct {
	Conv *service.ConversationStore
	Msg  *service.MessageStore
	Req  *service.RequestStore
	JWT  jwtlib.Options
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	auth := mid.RouteOpt{IsAuth: true, JWT: h.JWT}

	mid.POST(r, "/api/conversation/direct", h.CreateDirect, auth)
	mid.POST(r, "/api/conversation/group", h.CreateGroup, auth)
	mid.POST(r, "/api/conversation/group/update", h.UpdateGroup, auth)
	mid.POST(r, "/api/conversation/members", h.AddMembers, auth)
	mid.POST(r, "/api/conversation/admin", h.PromoteAdmin, auth)
	mid.GET(r, "/api/conversation/list", h.List, auth)
	mid.GET(r, "/api/conversation/info/:id", h.Info, auth)

	mid.POST(r, "/api/message/send", h.SendMessage, auth)
	mid.GET(r, "/api/message/list", h.ListMessages, auth)
	mid.POST(r, "/api/message/read", h.MarkRead, auth)

	mid.POST(r, "/api/request/send", h.SendRequest, auth)
	mid.POST(r, "/api/request/accept", h.AcceptRequest, auth)
	mid.POST(r, "/api/request/reject", h.RejectRequest, auth)
	mid.DELETE(r, "/api/request/delete/:id", h.DeleteRequest, auth)
	mid.GET(r, "/api/request/list", h.ListRequests, auth)
}

func fail(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"code": errs.Code(err), "msg": err.Error()})
}

// CreateDirect 与某用户建直聊。已存在时同样返回会话ID，
// 只是以 409 标识“已有”。
func (h *Handler) CreateDirect(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	conv, err := h.Conv.CreateDirect(c.Request.Context(), midsec.UserID(c), body.UserID)
	if err != nil {
		if conv != nil && errs.IsCode(err, errs.CodeConflict) {
			c.JSON(http.StatusConflict, gin.H{"code": errs.CodeConflict, "msg": "conversation exists", "conversation": conv})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var body struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		MemberIDs   []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	conv, err := h.Conv.CreateGroup(c.Request.Context(), midsec.UserID(c), body.Name, body.Description, body.MemberIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) UpdateGroup(c *gin.Context) {
	var body struct {
		ConversationID string  `json:"conversation_id"`
		Name           *string `json:"name"`
		Description    *string `json:"description"`
		FaceURL        *string `json:"face_url"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	conv, err := h.Conv.UpdateGroupInfo(c.Request.Context(), midsec.UserID(c), body.ConversationID, service.GroupPatch{
		Name:        body.Name,
		Description: body.Description,
		FaceURL:     body.FaceURL,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) AddMembers(c *gin.Context) {
	var body struct {
		ConversationID string   `json:"conversation_id"`
		UserIDs        []string `json:"user_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	conv, err := h.Conv.AddMembers(c.Request.Context(), midsec.UserID(c), body.ConversationID, body.UserIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) PromoteAdmin(c *gin.Context) {
	var body struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	conv, err := h.Conv.PromoteAdmin(c.Request.Context(), midsec.UserID(c), body.ConversationID, body.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) List(c *gin.Context) {
	convs, err := h.Conv.ListByParticipant(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *Handler) Info(c *gin.Context) {
	conv, err := h.Conv.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !conv.HasParticipant(midsec.UserID(c)) {
		fail(c, errs.ErrPermissionDenied.WrapMsg("not a participant"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var body struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	msg, err := h.Msg.Append(c.Request.Context(), body.ConversationID, midsec.UserID(c), body.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) ListMessages(c *gin.Context) {
	fromSeq, _ := strconv.ParseInt(c.DefaultQuery("from_seq", "0"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)

	msgs, err := h.Msg.ReadAscending(c.Request.Context(), midsec.UserID(c), c.Query("conversation_id"), fromSeq, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) MarkRead(c *gin.Context) {
	var body struct {
		ConversationID string `json:"conversation_id"`
		Seq            int64  `json:"seq"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	if err := h.Msg.MarkRead(c.Request.Context(), midsec.UserID(c), body.ConversationID, body.Seq); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) SendRequest(c *gin.Context) {
	var body struct {
		ToUserID string `json:"to_user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	req, err := h.Req.Send(c.Request.Context(), midsec.UserID(c), body.ToUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (h *Handler) AcceptRequest(c *gin.Context) {
	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	req, conv, err := h.Req.Accept(c.Request.Context(), body.RequestID, midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "conversation": conv})
}

func (h *Handler) RejectRequest(c *gin.Context) {
	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	req, err := h.Req.Reject(c.Request.Context(), body.RequestID, midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (h *Handler) DeleteRequest(c *gin.Context) {
	if err := h.Req.Delete(c.Request.Context(), c.Param("id"), midsec.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) ListRequests(c *gin.Context) {
	reqs, err := h.Req.ListForUser(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}
