package connector

import (
	"fmt"
	"time"
)

// Query 触发读取时携带的查询，由具体连接器解释
type Query interface {
	// Delay 执行查询前的等待时间
	Delay() time.Duration
}

// StringQuery 连接器原生的查询语句
type StringQuery struct {
	Query     string
	WaitDelay time.Duration
}

func (q StringQuery) Delay() time.Duration { return q.WaitDelay }

// TimeKind 时间点的解释方式
type TimeKind int

const (
	Unspecified TimeKind = iota
	Absolute
	RelativeWeeks
	RelativeDays
	RelativeHours
	RelativeMinutes
	RelativeSeconds
	RelativeMilliseconds
	RelativeMicroseconds
)

// Unit 返回相对时间的单位，Absolute 与 Unspecified 返回 0
func (k TimeKind) Unit() time.Duration {
	switch k {
	case RelativeWeeks:
		return 7 * 24 * time.Hour
	case RelativeDays:
		return 24 * time.Hour
	case RelativeHours:
		return time.Hour
	case RelativeMinutes:
		return time.Minute
	case RelativeSeconds:
		return time.Second
	case RelativeMilliseconds:
		return time.Millisecond
	case RelativeMicroseconds:
		return time.Microsecond
	default:
		return 0
	}
}

// TimeseriesQuery 简单的时间范围查询
// Absolute 时 Start/End 为 unix 毫秒，相对时间为带符号的单位数（一般为负数）
type TimeseriesQuery struct {
	Start     int64
	StartKind TimeKind
	End       int64
	EndKind   TimeKind
	WaitDelay time.Duration
}

func (q TimeseriesQuery) Delay() time.Duration { return q.WaitDelay }

// StartTime 以 now 为基准计算开始时间，Unspecified 返回 false
func (q TimeseriesQuery) StartTime(now time.Time) (time.Time, bool) {
	return resolve(q.Start, q.StartKind, now)
}

// EndTime 以 now 为基准计算结束时间，Unspecified 返回 false
func (q TimeseriesQuery) EndTime(now time.Time) (time.Time, bool) {
	return resolve(q.End, q.EndKind, now)
}

func resolve(v int64, kind TimeKind, now time.Time) (time.Time, bool) {
	switch kind {
	case Unspecified:
		return time.Time{}, false
	case Absolute:
		return time.UnixMilli(v), true
	default:
		return now.Add(time.Duration(v) * kind.Unit()), true
	}
}

func (q TimeseriesQuery) String() string {
	return fmt.Sprintf("timeseries[%d/%d, %d/%d]", q.Start, q.StartKind, q.End, q.EndKind)
}
