// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 资源不存在，或者对文档接口而言不属于请求方。
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden 资源存在但属于其他客户端。
	ErrForbidden = errors.New("resource does not belong to this client")
	// ErrKeywordSearchDisabled 关键词索引未启用。
	ErrKeywordSearchDisabled = errors.New("keyword search is not enabled")
)

// ValidationError 表示请求在开始任何后台工作之前被拒绝。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation 判断错误是否为校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// notFoundAs 把 gorm 的记录不存在转换为 target，其余错误原样返回。
func notFoundAs(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
