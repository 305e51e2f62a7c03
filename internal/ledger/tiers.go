package ledger

import (
	"fmt"

	"github.com/retailmesh/pricing-system/internal/model"
)

// TierThreshold — пара «нижняя граница баллов, уровень».
type TierThreshold struct {
	Floor int64
	Tier  model.Tier
}

// DefaultTierThresholds возвращает стандартную шкалу уровней лояльности.
func DefaultTierThresholds() []TierThreshold {
	return []TierThreshold{
		{Floor: 0, Tier: model.TierBronze},
		{Floor: 500, Tier: model.TierSilver},
		{Floor: 2000, Tier: model.TierGold},
		{Floor: 5000, Tier: model.TierPlatinum},
		{Floor: 10000, Tier: model.TierDiamond},
	}
}

// TierScale вычисляет уровень лояльности по накопленным баллам.
// Вычисление — чистая функция суммы баллов.
type TierScale struct {
	thresholds []TierThreshold
}

// NewTierScale создаёт шкалу уровней из возрастающего списка порогов.
func NewTierScale(thresholds []TierThreshold) (TierScale, error) {
	if len(thresholds) == 0 {
		return TierScale{}, fmt.Errorf("tier scale must have at least one threshold")
	}
	if thresholds[0].Floor != 0 {
		return TierScale{}, fmt.Errorf("first tier floor must be 0, got %d", thresholds[0].Floor)
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i].Floor <= thresholds[i-1].Floor {
			return TierScale{}, fmt.Errorf("tier floors must ascend: %d after %d",
				thresholds[i].Floor, thresholds[i-1].Floor)
		}
	}

	scale := TierScale{thresholds: make([]TierThreshold, len(thresholds))}
	copy(scale.thresholds, thresholds)
	return scale, nil
}

// Resolve возвращает уровень с наибольшим порогом, не превышающим totalPoints.
func (s TierScale) Resolve(totalPoints int64) model.Tier {
	tier := s.thresholds[0].Tier
	for _, th := range s.thresholds {
		if totalPoints < th.Floor {
			break
		}
		tier = th.Tier
	}
	return tier
}
