package loadbalance

import (
	"math/rand"

	"ipcrpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to its
// weight. Instances with a weight below 1 count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	total := 0
	for _, v := range instances {
		total += weight(v)
	}

	r := rand.Intn(total)
	for _, v := range instances {
		r -= weight(v)
		if r < 0 {
			return v, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return WeightedRandom
}

func weight(inst registry.Instance) int {
	return max(inst.Weight, 1)
}
