package port

import "time"

// Clock 时间源抽象，调度/去抖的比较全部经由它，便于测试中模拟时间流逝
type Clock interface {
	Now() time.Time
}

// SystemClock uses the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
