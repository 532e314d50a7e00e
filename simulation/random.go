package simulation

import (
	"math"
	"math/rand/v2"
)

// pcgStream 将种子展开为 PCG 的第二个状态字。
const pcgStream = 0x9e3779b97f4a7c15

// RandomSource 是一次仿真唯一的随机数来源，显式传递给所有使用者。
// 相同种子下产生完全相同的序列。
type RandomSource struct {
	r *rand.Rand
}

// NewRandomSource 用给定种子创建随机源。
func NewRandomSource(seed int64) *RandomSource {
	s := uint64(seed)
	return &RandomSource{r: rand.New(rand.NewPCG(s, s^pcgStream))}
}

// Exponential 返回均值为 mean 的指数分布样本。
func (rs *RandomSource) Exponential(mean SimTime) SimTime {
	return rs.r.ExpFloat64() * mean
}

// UniformInt 返回 [0, n] 上均匀分布的整数 (含两端)。n 为 MaxUint32 时取整个 uint32 范围。
func (rs *RandomSource) UniformInt(n uint32) uint32 {
	if n == math.MaxUint32 {
		return rs.r.Uint32()
	}
	return rs.r.Uint32N(n + 1)
}
