package simulation

// BackoffPolicy 二进制指数退避。
type BackoffPolicy struct {
	SlotTime    SimTime
	Cap         int
	MaxAttempts int
}

// NewBackoffPolicy 是 BackoffPolicy 的构造函数。
func NewBackoffPolicy(slot SimTime, backoffCap, maxAttempts int) BackoffPolicy {
	return BackoffPolicy{SlotTime: slot, Cap: backoffCap, MaxAttempts: maxAttempts}
}

// Exhausted 报文已碰撞 collisions 次后是否应被丢弃：下一次尝试将超过 MaxAttempts。
func (b BackoffPolicy) Exhausted(collisions int) bool {
	return collisions+1 > b.MaxAttempts
}

// Delay 第 attempt 次碰撞 (从 1 开始) 之后的等待时间：
// k = U[0, 2^min(attempt, cap) - 1]，返回 k 个时隙。
func (b BackoffPolicy) Delay(attempt int, rng *RandomSource) SimTime {
	if attempt < 1 {
		attempt = 1
	}
	exp := min(attempt, b.Cap)
	k := rng.UniformInt(uint32(1)<<exp - 1)
	return SimTime(k) * b.SlotTime
}
