package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	JWTSecret         string = "Shoptalk"
	JWTExpirationTime        = time.Hour * 24
)

// UserClaims 定义了我们 Token 中需要包含的业务信息
type UserClaims struct {
	UserID   uint64   `json:"user_id"`
	UserName string   `json:"user_name"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// IsAdmin 判断是否客服/管理员身份
func (c *UserClaims) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == "ADMIN" {
			return true
		}
	}
	return false
}
