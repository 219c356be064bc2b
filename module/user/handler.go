package user

import (
	"io"
	"net/http"

	"ChatX/logger"
	mid "ChatX/middleware"
	midsec "ChatX/middleware/security"
	"ChatX/module/user/service"
	"ChatX/service/upload"
	"ChatX/tools/errs"
	jwtlib "ChatX/tools/security"

	"github.com/gin-gonic/gin"
)

// Handler 用户域 HTTP 接口。
type Handler struct {
	Users   *service.UserStore
	Uploads *upload.Client
	JWT     jwtlib.Options
}

// RegisterRoutes 挂载 /api/user 路由。
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	open := mid.RouteOpt{}
	auth := mid.RouteOpt{IsAuth: true, JWT: h.JWT}

	mid.POST(r, "/api/user/register", h.Register, open)
	mid.POST(r, "/api/user/login", h.Login, open)

	mid.POST(r, "/api/user/username", h.ChangeUsername, auth)
	mid.POST(r, "/api/user/profile", h.UpdateProfile, auth)
	mid.POST(r, "/api/user/privacy", h.UpdatePrivacy, auth)
	mid.GET(r, "/api/user/search", h.Search, auth)
	mid.GET(r, "/api/user/me", h.Me, auth)
	mid.GET(r, "/api/user/info/:id", h.Info, auth)
	mid.GET(r, "/api/user/presence/:id", h.Presence, auth)
	mid.POST(r, "/api/user/verification", h.SubmitVerification, auth)
	mid.GET(r, "/api/user/verification", h.VerificationStatus, auth)
	mid.POST(r, "/api/user/verification/handle", h.HandleVerification, auth)
}

func fail(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"code": errs.Code(err), "msg": err.Error()})
}

// Register 注册。multipart 时可带 avatar 文件；头像上传失败
// 只记日志降级，注册本身照常完成。
func (h *Handler) Register(c *gin.Context) {
	in := service.RegisterParams{
		Email:    c.PostForm("email"),
		Username: c.PostForm("username"),
		Password: c.PostForm("password"),
		FullName: c.PostForm("full_name"),
	}
	if in.Email == "" && in.Username == "" {
		// JSON 调用方
		var body struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
			FullName string `json:"full_name"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, errs.ErrInvalidArgument.WrapMsg("bad register payload"))
			return
		}
		in.Email, in.Username, in.Password, in.FullName = body.Email, body.Username, body.Password, body.FullName
	}

	if file, err := c.FormFile("avatar"); err == nil && h.Uploads != nil {
		f, oerr := file.Open()
		if oerr == nil {
			data, rerr := io.ReadAll(f)
			_ = f.Close()
			if rerr == nil {
				url, uerr := h.Uploads.Upload(c.Request.Context(), file.Filename, data)
				if uerr != nil {
					logger.Warnf("[user] avatar upload degraded for %s: %v", in.Username, uerr)
				} else {
					in.FaceURL = url
				}
			}
		}
	}

	u, err := h.Users.Register(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) Login(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad login payload"))
		return
	}

	u, token, exp, err := h.Users.SignIn(c.Request.Context(), h.JWT, body.Email, body.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": token, "expire_at": exp})
}

func (h *Handler) ChangeUsername(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	u, err := h.Users.ChangeUsername(c.Request.Context(), midsec.UserID(c), body.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var body struct {
		FullName *string `json:"full_name"`
		FaceURL  *string `json:"face_url"`
		Bio      *string `json:"bio"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	u, err := h.Users.UpdateProfile(c.Request.Context(), midsec.UserID(c), service.ProfilePatch{
		FullName: body.FullName,
		FaceURL:  body.FaceURL,
		Bio:      body.Bio,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) UpdatePrivacy(c *gin.Context) {
	var body struct {
		AllowChatRequests *bool `json:"allow_chat_requests"`
		ShowOnlineStatus  *bool `json:"show_online_status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	u, err := h.Users.UpdatePrivacy(c.Request.Context(), midsec.UserID(c), body.AllowChatRequests, body.ShowOnlineStatus)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) Search(c *gin.Context) {
	users, err := h.Users.SearchByUsernamePrefix(c.Request.Context(), c.Query("q"), 20)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) Me(c *gin.Context) {
	u, err := h.Users.Get(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) Info(c *gin.Context) {
	u, err := h.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) Presence(c *gin.Context) {
	p, err := h.Users.Presence(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": p})
}

func (h *Handler) SubmitVerification(c *gin.Context) {
	req, err := h.Users.SubmitVerification(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (h *Handler) VerificationStatus(c *gin.Context) {
	req, err := h.Users.VerificationStatus(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// HandleVerification 审核认证申请。只有已认证用户可以审核。
func (h *Handler) HandleVerification(c *gin.Context) {
	var body struct {
		RequestID string `json:"request_id"`
		Approve   bool   `json:"approve"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad payload"))
		return
	}

	actor, err := h.Users.Get(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	if !actor.Verified {
		fail(c, errs.ErrPermissionDenied.WrapMsg("verification review requires a verified account"))
		return
	}

	if err := h.Users.HandleVerification(c.Request.Context(), body.RequestID, body.Approve); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handled": true})
}
