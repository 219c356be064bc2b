package service

import (
	"context"
	"time"

	usermodel "ChatX/module/user/model"
	"ChatX/tools/errs"
	ids "ChatX/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SubmitVerification 提交认证申请。已认证用户或已有待审申请给 Conflict。
func (s *UserStore) SubmitVerification(ctx context.Context, userID string) (*usermodel.VerificationRequest, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Verified {
		return nil, errs.ErrConflict.WrapMsg("already verified", "user", userID)
	}

	count, err := s.verColl.CountDocuments(ctx, bson.M{
		"user_id": userID,
		"status":  usermodel.VerificationPending,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "count pending verification", "user", userID)
	}
	if count > 0 {
		return nil, errs.ErrConflict.WrapMsg("verification already pending", "user", userID)
	}

	req := &usermodel.VerificationRequest{
		RequestID: ids.GenerateString(),
		UserID:    userID,
		Status:    usermodel.VerificationPending,
		Snapshot: usermodel.VerificationSnapshot{
			Username: user.Username,
			Email:    user.Email,
			FullName: user.FullName,
		},
		CreateTime: time.Now(),
	}
	if _, err := s.verColl.InsertOne(ctx, req); err != nil {
		return nil, errs.WrapMsg(err, "insert verification request")
	}
	return req, nil
}

// VerificationStatus 查询本人最近一次申请。
func (s *UserStore) VerificationStatus(ctx context.Context, userID string) (*usermodel.VerificationRequest, error) {
	var req usermodel.VerificationRequest
	err := s.verColl.FindOne(ctx,
		bson.M{"user_id": userID},
		options.FindOne().SetSort(bson.D{{Key: "create_time", Value: -1}}),
	).Decode(&req)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("no verification request", "user", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find verification request", "user", userID)
	}
	return &req, nil
}

// HandleVerification 审核（运营侧）。approve 时给用户打上认证标记。
func (s *UserStore) HandleVerification(ctx context.Context, requestID string, approve bool) error {
	status := usermodel.VerificationDenied
	if approve {
		status = usermodel.VerificationApproved
	}
	now := time.Now()

	var req usermodel.VerificationRequest
	err := s.verColl.FindOneAndUpdate(ctx,
		bson.M{"request_id": requestID, "status": usermodel.VerificationPending},
		bson.M{"$set": bson.M{"status": status, "handle_time": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&req)
	if err == mongo.ErrNoDocuments {
		return errs.ErrInvalidState.WrapMsg("verification not pending", "request", requestID)
	}
	if err != nil {
		return errs.WrapMsg(err, "handle verification", "request", requestID)
	}

	if !approve {
		return nil
	}
	if _, err := s.updateAndPublish(ctx, req.UserID, bson.M{"$set": bson.M{"verified": true, "update_time": now}}); err != nil {
		return err
	}
	return nil
}
