package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrMissingFields        = errors.New("缺少必填字段")
	ErrEmptyContent         = errors.New("消息内容不能为空")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrConversationRequired = errors.New("缺少会话 ID")
	UnauthorizedError       = errors.New("权限不足")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrMissingFields:        BadRequest,
	ErrEmptyContent:         BadRequest,
	ErrConversationNotFound: NotFound,
	ErrConversationRequired: BadRequest,
	UnauthorizedError:       Unauthorized,
	UnExpectedError:         InternalServerError,
}
