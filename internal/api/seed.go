package api

import (
	"context"
	"errors"
	"log/slog"

	"shotnews/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// defaultCategories 首次启动时创建的基础分类。
var defaultCategories = []model.Category{
	{Name: "World", Description: "International headlines"},
	{Name: "Technology", Description: "Tech industry and gadgets"},
	{Name: "Sports", Description: "Scores, matches and athletes"},
}

// SeedDefaults 初始化管理员账号与基础分类（幂等）。
//
// 管理员密码来自配置（ADMIN_PASSWORD 环境变量可覆盖）；
// 未配置密码时跳过管理员创建，只打印警告。
func (s *Server) SeedDefaults(ctx context.Context) error {
	if err := s.seedAdmin(ctx); err != nil {
		return err
	}
	return s.seedCategories(ctx)
}

func (s *Server) seedAdmin(ctx context.Context) error {
	email := s.cfg.Admin.Email
	if email == "" {
		return nil
	}
	if s.cfg.Admin.Password == "" {
		s.logger.Warn("admin password not configured, skip admin seed",
			slog.String("email", email))
		return nil
	}

	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(s.cfg.Admin.Password), 12)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Name:     s.cfg.Admin.Name,
			Email:    email,
			Password: string(hash),
			Role:     model.RoleAdmin,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
		s.logger.Info("admin account created", slog.String("email", email))
		return nil
	}

	// 已存在的账号只保证角色正确，不覆盖密码
	if user.Role != model.RoleAdmin {
		if err := s.db.WithContext(ctx).Model(&model.User{}).
			Where("id = ?", user.ID).
			Update("role", model.RoleAdmin).Error; err != nil {
			return err
		}
		s.logger.Info("admin role restored", slog.String("email", email))
	}
	return nil
}

func (s *Server) seedCategories(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Category{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for i := range defaultCategories {
		c := defaultCategories[i]
		if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
			// 并发启动时的重复插入不视为错误
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return err
		}
	}
	s.logger.Info("default categories created", slog.Int("count", len(defaultCategories)))
	return nil
}
