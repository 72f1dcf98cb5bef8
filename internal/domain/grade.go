package domain

import "strings"

// Grade описывает уровень привязанности.
type Grade string

const (
	GradeRookie Grade = "Rookie"
	GradeIron   Grade = "Iron"
	GradeSilver Grade = "Silver"
	GradeGold   Grade = "Gold"
)

// GradeThreshold связывает уровень с минимальным счётом.
type GradeThreshold struct {
	Grade Grade
	Min   int
}

// gradeTable отсортирована по возрастанию порога.
var gradeTable = []GradeThreshold{
	{Grade: GradeRookie, Min: 0},
	{Grade: GradeIron, Min: 10},
	{Grade: GradeSilver, Min: 50},
	{Grade: GradeGold, Min: 100},
}

// GradeFor возвращает уровень для счёта. Счёт ниже первого порога даёт Rookie.
func GradeFor(score int) Grade {
	grade := gradeTable[0].Grade
	for _, th := range gradeTable {
		if score < th.Min {
			break
		}
		grade = th.Grade
	}
	return grade
}

// GradeThresholds возвращает копию таблицы уровней.
func GradeThresholds() []GradeThreshold {
	out := make([]GradeThreshold, len(gradeTable))
	copy(out, gradeTable)
	return out
}

// ParseGrade приводит строку к уровню без учёта регистра.
func ParseGrade(raw string) (Grade, bool) {
	for _, th := range gradeTable {
		if strings.EqualFold(string(th.Grade), strings.TrimSpace(raw)) {
			return th.Grade, true
		}
	}
	return "", false
}

func gradeRank(g Grade) int {
	for i, th := range gradeTable {
		if th.Grade == g {
			return i
		}
	}
	return -1
}

// AtLeast сообщает, что уровень g не ниже min. Пустой min всегда выполнен.
func (g Grade) AtLeast(min Grade) bool {
	if min == "" {
		return true
	}
	return gradeRank(g) >= gradeRank(min) && gradeRank(g) >= 0
}
