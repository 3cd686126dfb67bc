package booking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Usage summarizes a group of reservations.
type Usage struct {
	Bookings        int
	Visits          int
	AverageDuration time.Duration
	// ConversionRate is Visits over Bookings rounded to two decimals.
	ConversionRate float64
}

// ResourceCount is the number of bookings a holder made on one resource.
type ResourceCount struct {
	ResourceID   ResourceID
	ResourceName string
	Bookings     int
}

// HolderCount is the number of bookings one holder made on a resource.
type HolderCount struct {
	HolderID HolderID
	Bookings int
}

// HolderStats is the usage of one holder.
type HolderStats struct {
	HolderID  HolderID
	Usage     Usage
	Resources []ResourceCount
}

// ResourceStats is the usage of one resource.
type ResourceStats struct {
	ResourceID   ResourceID
	ResourceName string
	Usage        Usage
	Holders      []HolderCount
}

// Statistics aggregates every stored reservation. Groups are ordered by
// bookings, most first, then by id.
type Statistics struct {
	Total     Usage
	Holders   []HolderStats
	Resources []ResourceStats
}

type usageSum struct {
	bookings     int
	visits       int
	totalSeconds int64
}

func (sum *usageSum) add(tally ReservationTally) {
	sum.bookings += tally.Bookings
	sum.visits += tally.Visits
	sum.totalSeconds += tally.TotalSeconds
}

func (sum usageSum) usage() Usage {
	if sum.bookings == 0 {
		return Usage{}
	}
	return Usage{
		Bookings:        sum.bookings,
		Visits:          sum.visits,
		AverageDuration: time.Duration(sum.totalSeconds/int64(sum.bookings)) * time.Second,
		ConversionRate:  math.Round(float64(sum.visits)/float64(sum.bookings)*100) / 100,
	}
}

// Statistics returns booking and visit counts per holder and per resource.
// Admin only.
func (service *Service) Statistics(ctx context.Context, actor Actor) (Statistics, error) {
	if !actor.IsAdmin() {
		return Statistics{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	tallies, err := service.store.TallyReservations(ctx)
	if err != nil {
		return Statistics{}, err
	}
	resources, err := service.store.ListResources(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return summarize(tallies, resources), nil
}

func summarize(tallies []ReservationTally, resources []Resource) Statistics {
	names := make(map[ResourceID]string, len(resources))
	for _, resource := range resources {
		names[resource.ID()] = resource.Name()
	}

	var total usageSum
	holderSums := make(map[HolderID]*usageSum)
	resourceSums := make(map[ResourceID]*usageSum)
	holderResources := make(map[HolderID][]ResourceCount)
	resourceHolders := make(map[ResourceID][]HolderCount)
	for _, tally := range tallies {
		if tally.Bookings == 0 {
			continue
		}
		total.add(tally)
		if holderSums[tally.HolderID] == nil {
			holderSums[tally.HolderID] = &usageSum{}
		}
		holderSums[tally.HolderID].add(tally)
		if resourceSums[tally.ResourceID] == nil {
			resourceSums[tally.ResourceID] = &usageSum{}
		}
		resourceSums[tally.ResourceID].add(tally)
		holderResources[tally.HolderID] = append(holderResources[tally.HolderID], ResourceCount{
			ResourceID:   tally.ResourceID,
			ResourceName: names[tally.ResourceID],
			Bookings:     tally.Bookings,
		})
		resourceHolders[tally.ResourceID] = append(resourceHolders[tally.ResourceID], HolderCount{
			HolderID: tally.HolderID,
			Bookings: tally.Bookings,
		})
	}

	statistics := Statistics{
		Total:     total.usage(),
		Holders:   make([]HolderStats, 0, len(holderSums)),
		Resources: make([]ResourceStats, 0, len(resourceSums)),
	}
	for holderID, sum := range holderSums {
		counts := holderResources[holderID]
		sort.Slice(counts, func(left, right int) bool {
			if counts[left].Bookings != counts[right].Bookings {
				return counts[left].Bookings > counts[right].Bookings
			}
			return counts[left].ResourceID.String() < counts[right].ResourceID.String()
		})
		statistics.Holders = append(statistics.Holders, HolderStats{HolderID: holderID, Usage: sum.usage(), Resources: counts})
	}
	for resourceID, sum := range resourceSums {
		counts := resourceHolders[resourceID]
		sort.Slice(counts, func(left, right int) bool {
			if counts[left].Bookings != counts[right].Bookings {
				return counts[left].Bookings > counts[right].Bookings
			}
			return counts[left].HolderID.String() < counts[right].HolderID.String()
		})
		statistics.Resources = append(statistics.Resources, ResourceStats{
			ResourceID:   resourceID,
			ResourceName: names[resourceID],
			Usage:        sum.usage(),
			Holders:      counts,
		})
	}
	sort.Slice(statistics.Holders, func(left, right int) bool {
		leftHolder, rightHolder := statistics.Holders[left], statistics.Holders[right]
		if leftHolder.Usage.Bookings != rightHolder.Usage.Bookings {
			return leftHolder.Usage.Bookings > rightHolder.Usage.Bookings
		}
		return leftHolder.HolderID.String() < rightHolder.HolderID.String()
	})
	sort.Slice(statistics.Resources, func(left, right int) bool {
		leftResource, rightResource := statistics.Resources[left], statistics.Resources[right]
		if leftResource.Usage.Bookings != rightResource.Usage.Bookings {
			return leftResource.Usage.Bookings > rightResource.Usage.Bookings
		}
		return leftResource.ResourceID.String() < rightResource.ResourceID.String()
	})
	return statistics
}
