package game

import "time"

// Clock 时间源，测试中可替换为可控时钟
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 可取消的定时器句柄
type Timer interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock 基于 time 包的时钟
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
