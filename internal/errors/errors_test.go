package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	err = New(ErrRoomNotFound, "join_code=123456")
	suite.Equal("房间不存在", err.Message)
	suite.Equal("join_code=123456", err.Details)

	// 多个详情
	err = New(ErrDatabaseConnect, "连接失败", "driver: sqlite")
	suite.Equal("连接失败; driver: sqlite", err.Details)
}

func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrInvalidUsername, "长度 %d 超过上限 %d", 30, 24)
	suite.Equal(ErrInvalidUsername, err.Code)
	suite.Equal("长度 30 超过上限 24", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrDatabaseQuery)
	suite.Equal(ErrDatabaseQuery, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
	suite.True(errors.Is(wrappedErr, originalErr))

	suite.Nil(Wrap(nil, ErrUnknown))

	// 已有的AppError保留原始错误码
	appErr := New(ErrRoomFull, "16/16")
	wrappedAppErr := Wrap(appErr, ErrInvalidParam, "额外信息")
	suite.Equal(ErrRoomFull, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "额外信息")
}

func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("连接超时")
	wrappedErr := Wrapf(originalErr, ErrDatabaseConnect, "数据库 %s 连接失败", "sqlite")
	suite.Equal("数据库 sqlite 连接失败", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
}

// 测试错误码判断，包括被 fmt.Errorf 包装的情况
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrNotHost)
	suite.True(Is(err, ErrNotHost))
	suite.False(Is(err, ErrNotFound))
	suite.False(Is(nil, ErrNotHost))
	suite.False(Is(errors.New("标准错误"), ErrUnknown))

	wrapped := fmt.Errorf("start: %w", err)
	suite.True(Is(wrapped, ErrNotHost))
	suite.True(errors.Is(wrapped, New(ErrNotHost)))
	suite.False(errors.Is(wrapped, New(ErrRoomFull)))
}

func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrTokenExpired, GetCode(New(ErrTokenExpired)))
	suite.Equal(ErrUsernameTaken, GetCode(fmt.Errorf("join: %w", New(ErrUsernameTaken))))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{Code: ErrRoomNotFound, Message: "房间不存在"}
	suite.Equal("[2000] 房间不存在", err.Error())

	err.Details = "join_code=999999"
	suite.Equal("[2000] 房间不存在: join_code=999999", err.Error())
}

func (suite *ErrorsTestSuite) TestUnwrap() {
	originalErr := errors.New("原始错误")
	suite.Equal(originalErr, Wrap(originalErr, ErrUnknown).Unwrap())
	suite.Nil(New(ErrUnknown).Unwrap())
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidParam, http.StatusBadRequest},
		{ErrInvalidUsername, http.StatusBadRequest},
		{ErrRoomNotFound, http.StatusNotFound},
		{ErrPlayerNotFound, http.StatusNotFound},
		{ErrGameAlreadyStarted, http.StatusConflict},
		{ErrUsernameTaken, http.StatusConflict},
		{ErrRoomFull, http.StatusConflict},
		{ErrNotHost, http.StatusForbidden},
		{ErrAuthentication, http.StatusUnauthorized},
		{ErrTokenExpired, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrDatabaseConnect, http.StatusServiceUnavailable},
		{ErrUnknown, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		suite.Equal(tc.expected, New(tc.code).HTTPStatus(), "错误码 %d", tc.code)
	}

	suite.Equal(http.StatusConflict, HTTPStatus(fmt.Errorf("x: %w", New(ErrRoomFull))))
	suite.Equal(http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func (suite *ErrorsTestSuite) TestIsRetryable() {
	suite.True(IsRetryable(New(ErrTimeout)))
	suite.True(IsRetryable(New(ErrJoinCodeExhausted)))
	suite.False(IsRetryable(New(ErrUsernameTaken)))
	suite.False(IsRetryable(nil))
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
}

// 测试未知错误码
func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal(ErrorCode(99999), err.Code)
	suite.Equal("未知错误", err.Message)
}

// 每个错误码都有对应消息
func (suite *ErrorsTestSuite) TestAllCodesHaveMessages() {
	for code, msg := range errorMessages {
		suite.NotEmpty(msg, "错误码 %d", code)
		suite.Equal(msg, New(code).Message)
	}
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
