package milestone

import (
	"slices"
	"sort"

	"companion-bot/internal/domain"
)

// Schedule — возрастающий список порогов.
type Schedule struct {
	points []int
}

// DefaultPoints строит стандартный список: 10..40 шагом 10, 60..220 шагом 20, затем шагом 30 до max.
func DefaultPoints(max int) []int {
	var out []int
	for m := 10; m <= 40 && m <= max; m += 10 {
		out = append(out, m)
	}
	for m := 60; m <= 220 && m <= max; m += 20 {
		out = append(out, m)
	}
	for m := 250; m <= max; m += 30 {
		out = append(out, m)
	}
	return out
}

// NewSchedule проверяет, что пороги положительны и строго возрастают.
func NewSchedule(points []int) (Schedule, error) {
	if len(points) == 0 {
		return Schedule{}, domain.NewConfigError("milestones", "список порогов пуст")
	}
	for i, p := range points {
		if p <= 0 {
			return Schedule{}, domain.NewConfigError("milestones", "порог %d должен быть положительным", p)
		}
		if i > 0 && p <= points[i-1] {
			return Schedule{}, domain.NewConfigError("milestones", "пороги должны строго возрастать: %d после %d", p, points[i-1])
		}
	}
	return Schedule{points: slices.Clone(points)}, nil
}

// Points возвращает копию порогов.
func (s Schedule) Points() []int { return slices.Clone(s.points) }

// Crossed возвращает пороги m, для которых old < m <= new, по возрастанию.
func (s Schedule) Crossed(old, new int) []int {
	if new <= old {
		return nil
	}
	lo := sort.SearchInts(s.points, old+1)
	hi := sort.SearchInts(s.points, new+1)
	if lo >= hi {
		return nil
	}
	return slices.Clone(s.points[lo:hi])
}

// Next возвращает ближайший порог выше score.
func (s Schedule) Next(score int) (int, bool) {
	i := sort.SearchInts(s.points, score+1)
	if i >= len(s.points) {
		return 0, false
	}
	return s.points[i], true
}
