// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"
	"chara-chat-go/internal/repository"
	"chara-chat-go/pkg/hash"
	"chara-chat-go/pkg/token"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// RegisterRequest 定义了用户注册所需的数据。
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname" binding:"required"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
}

// LoginRequest 定义了用户登录所需的数据。
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenPair 是登录与刷新接口的返回值。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UpdateProfileRequest 定义了更新个人资料的可选字段。
type UpdateProfileRequest struct {
	Name     *string `json:"name"`
	Nickname *string `json:"nickname"`
	ImageURL *string `json:"imageUrl"`
	Bio      *string `json:"bio"`
}

// UserService 定义了用户账号相关的业务接口。
type UserService interface {
	Register(req RegisterRequest) (*model.User, error)
	Login(req LoginRequest) (*TokenPair, error)
	// Logout 将 token 加入黑名单，使其在剩余有效期内不可再用。
	Logout(ctx context.Context, tokenString string, claims *token.CustomClaims) error
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)
	GetProfile(userID uint) (*model.User, error)
	UpdateProfile(userID uint, req UpdateProfileRequest) (*model.User, error)
	// SetSafetyFilter 更新内容安全过滤开关。
	SetSafetyFilter(userID uint, enabled bool) error
	// SetDefaultPersona 设置默认人物设定，personaID 为 nil 时清空。
	// 目标设定必须归该用户所有。
	SetDefaultPersona(userID uint, personaID *uint) error
}

type userService struct {
	userRepo    repository.UserRepository
	personaRepo repository.PersonaRepository
	jwtManager  *token.JWTManager
	redisClient *redis.Client
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(
	userRepo repository.UserRepository,
	personaRepo repository.PersonaRepository,
	jwtManager *token.JWTManager,
	redisClient *redis.Client,
) UserService {
	return &userService{
		userRepo:    userRepo,
		personaRepo: personaRepo,
		jwtManager:  jwtManager,
		redisClient: redisClient,
	}
}

func blacklistKey(tokenString string) string {
	return fmt.Sprintf("jwt:blacklist:%s", tokenString)
}

// Register 处理用户注册：查重、加密口令、落库。
func (s *userService) Register(req RegisterRequest) (*model.User, error) {
	existing, err := s.userRepo.FindDuplicate(req.Email, req.Phone, req.Nickname)
	if err == nil && existing != nil {
		return nil, apperr.New(apperr.CodeConflict, "邮箱、手机号或昵称已被占用")
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := hash.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "密码加密失败", err)
	}

	user := &model.User{
		Email:    req.Email,
		Password: hashed,
		Nickname: req.Nickname,
		Phone:    req.Phone,
		Name:     req.Name,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "创建用户失败", err)
	}
	return user, nil
}

// Login 校验邮箱与口令，签发一对访问与刷新令牌。
func (s *userService) Login(req LoginRequest) (*TokenPair, error) {
	user, err := s.userRepo.FindByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeUnauthorized, "邮箱或密码错误")
		}
		return nil, err
	}
	if !hash.CheckPasswordHash(req.Password, user.Password) {
		return nil, apperr.New(apperr.CodeUnauthorized, "邮箱或密码错误")
	}
	return s.issueTokens(user)
}

func (s *userService) issueTokens(user *model.User) (*TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Nickname, user.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "生成令牌失败", err)
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Nickname, user.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "生成刷新令牌失败", err)
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Logout 将当前 token 写入 Redis 黑名单，过期时间与 token 剩余有效期对齐。
func (s *userService) Logout(ctx context.Context, tokenString string, claims *token.CustomClaims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.redisClient.Set(ctx, blacklistKey(tokenString), "1", ttl).Err()
}

// RefreshToken 用有效的刷新令牌换发新的令牌对，旧刷新令牌随即拉黑。
func (s *userService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnauthorized, "刷新令牌无效或已过期", err)
	}

	blacklisted, err := s.redisClient.Exists(ctx, blacklistKey(refreshToken)).Result()
	if err != nil {
		return nil, err
	}
	if blacklisted > 0 {
		return nil, apperr.New(apperr.CodeUnauthorized, "刷新令牌已失效")
	}

	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeUnauthorized, "用户不存在")
		}
		return nil, err
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}
	// 旧刷新令牌一次性使用
	if err := s.Logout(ctx, refreshToken, claims); err != nil {
		return nil, err
	}
	return pair, nil
}

// GetProfile 返回用户的个人资料。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "用户不存在")
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile 按字段更新用户资料，未提供的字段保持不变。
func (s *userService) UpdateProfile(userID uint, req UpdateProfileRequest) (*model.User, error) {
	user, err := s.GetProfile(userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Nickname != nil {
		user.Nickname = *req.Nickname
	}
	if req.ImageURL != nil {
		user.ImageURL = *req.ImageURL
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}

	if err := s.userRepo.Update(user); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "更新用户资料失败", err)
	}
	return user, nil
}

// SetSafetyFilter 更新用户的内容安全过滤开关。
func (s *userService) SetSafetyFilter(userID uint, enabled bool) error {
	if err := s.userRepo.UpdateSafetyFilter(userID, enabled); err != nil {
		return apperr.Wrap(apperr.CodePersistence, "更新安全过滤开关失败", err)
	}
	return nil
}

// SetDefaultPersona 设置或清空默认人物设定，设定必须归本人所有。
func (s *userService) SetDefaultPersona(userID uint, personaID *uint) error {
	if personaID != nil {
		if _, err := s.personaRepo.FindByIDAndAuthor(*personaID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.CodeNotFound, "人物设定不存在或无权使用")
			}
			return err
		}
	}
	if err := s.userRepo.UpdateDefaultPersona(userID, personaID); err != nil {
		return apperr.Wrap(apperr.CodePersistence, "更新默认人物设定失败", err)
	}
	return nil
}
