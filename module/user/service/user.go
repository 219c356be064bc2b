package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"ChatX/logger"
	usermodel "ChatX/module/user/model"
	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"
	ids "ChatX/tools/ids"
	jwtlib "ChatX/tools/security"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,24}$`)

// NormalizeUsername 小写归一。校验失败返回 InvalidArgument。
func NormalizeUsername(raw string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(raw))
	if !usernameRe.MatchString(u) {
		return "", errs.ErrInvalidArgument.WrapMsg("bad username", "username", raw)
	}
	return u, nil
}

// UserStore 用户目录。用户名经 usernames 预留表保证全局唯一，
// 预留与用户记录同事务写，二者永不背离。
type UserStore struct {
	client   *mongo.Client
	userColl *mongo.Collection
	nameColl *mongo.Collection
	verColl  *mongo.Collection
	presence PresenceStore
	pub      syncsrv.Publisher
}

func NewUserStore(client *mongo.Client, db *mongo.Database, presence PresenceStore, pub syncsrv.Publisher) *UserStore {
	if pub == nil {
		pub = syncsrv.NopPublisher{}
	}
	var u usermodel.User
	var n usermodel.UsernameReservation
	var v usermodel.VerificationRequest
	return &UserStore{
		client:   client,
		userColl: db.Collection(u.GetTableName()),
		nameColl: db.Collection(n.GetTableName()),
		verColl:  db.Collection(v.GetTableName()),
		presence: presence,
		pub:      pub,
	}
}

func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.userColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure user indexes")
	}
	return nil
}

// RegisterParams 注册入参。FaceURL 可为空（头像上传失败可降级）。
type RegisterParams struct {
	Email    string
	Username string
	Password string
	FullName string
	FaceURL  string
}

// Register 注册新用户。用户记录与用户名预留同事务落库。
func (s *UserStore) Register(ctx context.Context, in RegisterParams) (*usermodel.User, error) {
	username, err := NormalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errs.ErrInvalidArgument.WrapMsg("bad email", "email", in.Email)
	}
	if len(in.Password) < 8 {
		return nil, errs.ErrInvalidArgument.WrapMsg("password too short")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.WrapMsg(err, "hash password")
	}

	now := time.Now()
	user := &usermodel.User{
		UserID:       ids.GenerateString(),
		Email:        email,
		Username:     username,
		FullName:     strings.TrimSpace(in.FullName),
		FaceURL:      in.FaceURL,
		PasswordHash: string(hash),
		Privacy: usermodel.PrivacySettings{
			AllowChatRequests: true,
			ShowOnlineStatus:  true,
		},
		CreateTime: now,
		UpdateTime: now,
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, errs.WrapMsg(err, "start mongo session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, e := s.nameColl.InsertOne(sc, &usermodel.UsernameReservation{
			Username:   username,
			UserID:     user.UserID,
			CreateTime: now,
		}); e != nil {
			return nil, e
		}
		_, e := s.userColl.InsertOne(sc, user)
		return nil, e
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrConflict.WrapMsg("username or email taken", "username", username, "email", email)
		}
		return nil, errs.WrapMsg(err, "register user")
	}

	s.publish(syncsrv.KindAdded, user)
	return user, nil
}

// SignIn 邮箱+密码登录，返回用户与访问令牌。
func (s *UserStore) SignIn(ctx context.Context, opts jwtlib.Options, email, password string) (*usermodel.User, string, time.Time, error) {
	var user usermodel.User
	err := s.userColl.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, "", time.Time{}, errs.ErrPermissionDenied.WrapMsg("bad credentials")
	}
	if err != nil {
		return nil, "", time.Time{}, errs.WrapMsg(err, "find user by email")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", time.Time{}, errs.ErrPermissionDenied.WrapMsg("bad credentials")
	}

	token, _, exp, err := jwtlib.Generate(opts, user.UserID, nil)
	if err != nil {
		return nil, "", time.Time{}, errs.WrapMsg(err, "issue token")
	}
	return &user, token, exp, nil
}

// ChangeUsername 换用户名：新预留、删旧预留、改用户记录，一个事务。
func (s *UserStore) ChangeUsername(ctx context.Context, userID, newUsername string) (*usermodel.User, error) {
	username, err := NormalizeUsername(newUsername)
	if err != nil {
		return nil, err
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Username == username {
		return user, nil
	}

	now := time.Now()
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, errs.WrapMsg(err, "start mongo session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, e := s.nameColl.InsertOne(sc, &usermodel.UsernameReservation{
			Username:   username,
			UserID:     userID,
			CreateTime: now,
		}); e != nil {
			return nil, e
		}
		if _, e := s.nameColl.DeleteOne(sc, bson.M{"_id": user.Username, "user_id": userID}); e != nil {
			return nil, e
		}
		_, e := s.userColl.UpdateOne(sc,
			bson.M{"user_id": userID},
			bson.M{"$set": bson.M{"username": username, "update_time": now}})
		return nil, e
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrConflict.WrapMsg("username taken", "username", username)
		}
		return nil, errs.WrapMsg(err, "change username", "user", userID)
	}

	user.Username = username
	user.UpdateTime = now
	s.publish(syncsrv.KindModified, user)
	return user, nil
}

// ProfilePatch 资料可改字段，nil 表示不动。
type ProfilePatch struct {
	FullName *string
	FaceURL  *string
	Bio      *string
}

func (s *UserStore) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*usermodel.User, error) {
	set := bson.M{"update_time": time.Now()}
	if patch.FullName != nil {
		set["full_name"] = strings.TrimSpace(*patch.FullName)
	}
	if patch.FaceURL != nil {
		set["face_url"] = *patch.FaceURL
	}
	if patch.Bio != nil {
		set["bio"] = *patch.Bio
	}
	return s.updateAndPublish(ctx, userID, bson.M{"$set": set})
}

func (s *UserStore) UpdatePrivacy(ctx context.Context, userID string, allowRequests, showOnline *bool) (*usermodel.User, error) {
	set := bson.M{"update_time": time.Now()}
	if allowRequests != nil {
		set["privacy.allow_chat_requests"] = *allowRequests
	}
	if showOnline != nil {
		set["privacy.show_online_status"] = *showOnline
	}
	return s.updateAndPublish(ctx, userID, bson.M{"$set": set})
}

// Get 按ID取用户。
func (s *UserStore) Get(ctx context.Context, userID string) (*usermodel.User, error) {
	var u usermodel.User
	err := s.userColl.FindOne(ctx, bson.M{"user_id": userID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "user", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find user", "user", userID)
	}
	return &u, nil
}

// SearchByUsernamePrefix 前缀检索目录（区间扫，不做全文）。
func (s *UserStore) SearchByUsernamePrefix(ctx context.Context, prefix string, limit int64) ([]*usermodel.User, error) {
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("empty search prefix")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	cur, err := s.userColl.Find(ctx,
		bson.M{"username": bson.M{"$gte": p, "$lt": p + "￿"}},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, errs.WrapMsg(err, "search users", "prefix", p)
	}
	defer cur.Close(ctx)

	var out []*usermodel.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode users")
	}
	return out, nil
}

// Presence 读在线状态；用户关闭展示开关时恒为 hidden。
func (s *UserStore) Presence(ctx context.Context, userID string) (string, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.Privacy.ShowOnlineStatus {
		return usermodel.PresenceHidden, nil
	}
	return s.presence.Get(ctx, userID)
}

// SetOnline 网关连接建立/心跳时续租在线标记。
func (s *UserStore) SetOnline(ctx context.Context, userID string) error {
	return s.presence.SetOnline(ctx, userID)
}

func (s *UserStore) SetOffline(ctx context.Context, userID string) error {
	return s.presence.SetOffline(ctx, userID)
}

func (s *UserStore) updateAndPublish(ctx context.Context, userID string, update bson.M) (*usermodel.User, error) {
	var u usermodel.User
	err := s.userColl.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "user", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "update user", "user", userID)
	}
	s.publish(syncsrv.KindModified, &u)
	return &u, nil
}

func (s *UserStore) publish(kind syncsrv.Kind, u *usermodel.User) {
	ev := &syncsrv.Event{
		ID:     ids.GenerateString(),
		Kind:   kind,
		Entity: syncsrv.EntityUser,
		Doc: map[string]any{
			"user_id":   u.UserID,
			"username":  u.Username,
			"full_name": u.FullName,
			"face_url":  u.FaceURL,
			"bio":       u.Bio,
			"verified":  u.Verified,
		},
		EmitTime: time.Now(),
	}
	if err := s.pub.PublishControl(ev); err != nil {
		logger.Errorf("[user] publish %s event: %v", kind, err)
	}
}
