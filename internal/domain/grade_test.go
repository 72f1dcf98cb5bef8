package domain

import "testing"

func TestGradeFor(t *testing.T) {
	tests := []struct {
		name  string
		score int
		want  Grade
	}{
		{name: "negative is rookie", score: -5, want: GradeRookie},
		{name: "zero", score: 0, want: GradeRookie},
		{name: "below iron", score: 9, want: GradeRookie},
		{name: "iron boundary", score: 10, want: GradeIron},
		{name: "below silver", score: 49, want: GradeIron},
		{name: "silver boundary", score: 50, want: GradeSilver},
		{name: "gold boundary", score: 100, want: GradeGold},
		{name: "far above gold", score: 5000, want: GradeGold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GradeFor(tt.score); got != tt.want {
				t.Fatalf("GradeFor(%d) = %v, want %v", tt.score, got, tt.want)
			}
		})
	}
}

func TestGradeThresholdsAscending(t *testing.T) {
	table := GradeThresholds()
	for i := 1; i < len(table); i++ {
		if table[i].Min <= table[i-1].Min {
			t.Fatalf("таблица уровней должна возрастать: %v", table)
		}
	}
	table[0].Min = 999
	if GradeThresholds()[0].Min == 999 {
		t.Fatal("ожидали копию таблицы")
	}
}

func TestParseGrade(t *testing.T) {
	if g, ok := ParseGrade(" silver "); !ok || g != GradeSilver {
		t.Fatalf("ожидали Silver, получили %v %v", g, ok)
	}
	if _, ok := ParseGrade("platinum"); ok {
		t.Fatal("не ожидали уровень platinum")
	}
}

func TestAffinityChangeLevelChanged(t *testing.T) {
	c := AffinityChange{OldScore: 9, NewScore: 10, OldGrade: GradeFor(9), NewGrade: GradeFor(10)}
	if !c.LevelChanged() {
		t.Fatal("ожидали смену уровня на 10")
	}
	c = AffinityChange{OldScore: 10, NewScore: 11, OldGrade: GradeFor(10), NewGrade: GradeFor(11)}
	if c.LevelChanged() {
		t.Fatal("не ожидали смену уровня на 11")
	}
}

func TestGradeAtLeast(t *testing.T) {
	if !GradeGold.AtLeast(GradeSilver) || GradeIron.AtLeast(GradeGold) {
		t.Fatal("неверное сравнение уровней")
	}
	if !GradeRookie.AtLeast("") {
		t.Fatal("пустое требование должно выполняться")
	}
}
