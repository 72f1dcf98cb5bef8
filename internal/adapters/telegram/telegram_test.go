package telegram

import (
	"errors"
	"strings"
	"testing"

	"companion-bot/internal/domain"
)

func TestCallbackRoundTrip(t *testing.T) {
	tests := []struct {
		data string
		want Callback
	}{
		{data: CharacterData("eros"), want: Callback{Kind: domain.InputCharacterChosen, CharacterID: "eros"}},
		{data: LanguageData("kagari", "ja"), want: Callback{Kind: domain.InputLanguageSelected, CharacterID: "kagari", Language: "ja"}},
		{data: ClaimData("kagari"), want: Callback{Kind: domain.InputCardClaimClicked, CharacterID: "kagari"}},
		{data: StoryData("eros", ""), want: Callback{Kind: domain.InputStoryStart, CharacterID: "eros"}},
		{data: StoryData("eros", "eros_missing_gift_box"), want: Callback{Kind: domain.InputStoryStart, CharacterID: "eros", StoryID: "eros_missing_gift_box"}},
		{data: ChoiceData("eros", "D"), want: Callback{Kind: domain.InputStoryChoiceMade, CharacterID: "eros", ChoiceKey: "D"}},
	}
	for _, tt := range tests {
		got, err := ParseCallback(tt.data)
		if err != nil {
			t.Fatalf("ParseCallback(%q): %v", tt.data, err)
		}
		if got != tt.want {
			t.Fatalf("ParseCallback(%q) = %+v, ожидали %+v", tt.data, got, tt.want)
		}
		if len(tt.data) > 64 {
			t.Fatalf("данные %q длиннее 64 байт", tt.data)
		}
	}
}

func TestParseCallbackRejects(t *testing.T) {
	for _, data := range []string{"", "char", "char:", "lang:kagari", "choice:eros:", "digest_now", "claim:a:b"} {
		if _, err := ParseCallback(data); !errors.Is(err, ErrBadCallback) {
			t.Fatalf("ParseCallback(%q): ожидали ErrBadCallback, получили %v", data, err)
		}
	}
}

func TestRenderFinalChoiceHasButtons(t *testing.T) {
	ev := domain.Event{
		Kind:        domain.EventStoryBeat,
		CharacterID: "eros",
		Beat:        &domain.BeatPayload{StoryID: "s", Turn: 20, Phase: "final_choice", Text: "Кто взял коробку?", Choices: []string{"A", "B", "C", "D"}},
	}
	reply, ok := Render(ev, nil)
	if !ok || reply.Keyboard == nil {
		t.Fatalf("ожидали сообщение с клавиатурой: %+v", reply)
	}
	row := reply.Keyboard.InlineKeyboard[0]
	if len(row) != 4 || row[3].CallbackData == nil || *row[3].CallbackData != "choice:eros:D" {
		t.Fatalf("неожиданные кнопки: %+v", row)
	}
}

func TestRenderCardAndUnknown(t *testing.T) {
	name := func(id string) string { return strings.ToUpper(id) }
	ev := domain.Event{Kind: domain.EventCardGranted, CharacterID: "kagari", Card: &domain.CardPayload{CardID: "kagaric3", Tier: domain.TierC, IssuanceNumber: 2}}
	reply, ok := Render(ev, name)
	if !ok || !strings.Contains(reply.Text, "kagaric3") || !strings.Contains(reply.Text, "#2") || !strings.Contains(reply.Text, "KAGARI") {
		t.Fatalf("неожиданный текст: %q", reply.Text)
	}
	if _, ok := Render(domain.Event{Kind: "unknown"}, name); ok {
		t.Fatal("неизвестное событие не должно отображаться")
	}
	if _, ok := Render(domain.Event{Kind: domain.EventCardGranted}, name); ok {
		t.Fatal("событие без полезной нагрузки не должно отображаться")
	}
}

func TestRenderRejection(t *testing.T) {
	name := func(string) string { return "Эрос" }
	tests := []struct {
		reason domain.RejectReason
		want   string
	}{
		{domain.RejectDailyLimit, "Возвращайтесь завтра"},
		{domain.RejectStoryLocked, "История с Эрос пока закрыта"},
		{domain.RejectChapterLocked, "предыдущую главу"},
		{domain.RejectSessionActive, "уже идёт"},
		{domain.RejectAlreadyCompleted, "выбор уже сделан"},
		{domain.RejectAwaitingChoice, "ждёт вашего выбора"},
	}
	for _, tt := range tests {
		ev := domain.Event{Kind: domain.EventInputRejected, CharacterID: "eros", Rejection: &domain.RejectionPayload{Reason: tt.reason}}
		reply, ok := Render(ev, name)
		if !ok || !strings.Contains(reply.Text, tt.want) {
			t.Fatalf("%s: ожидали %q, получили %q", tt.reason, tt.want, reply.Text)
		}
	}
	for _, reason := range rejectionReasons() {
		if _, ok := rejections[reason]; !ok {
			t.Fatalf("нет текста для причины %s", reason)
		}
	}
	if _, ok := Render(domain.Event{Kind: domain.EventInputRejected, Rejection: &domain.RejectionPayload{Reason: "other"}}, nil); ok {
		t.Fatal("неизвестная причина не показывается")
	}
}

func rejectionReasons() []domain.RejectReason {
	return []domain.RejectReason{
		domain.RejectDailyLimit, domain.RejectStoryLocked, domain.RejectChapterLocked, domain.RejectStoryCompleted,
		domain.RejectSessionActive, domain.RejectAlreadyCompleted, domain.RejectAwaitingChoice, domain.RejectUnknownChoice,
		domain.RejectUnknownStory, domain.RejectUnknownCharacter, domain.RejectUnsupportedLanguage, domain.RejectMilestonesPending,
	}
}

func TestRenderProfile(t *testing.T) {
	ev := domain.Event{
		Kind:        domain.EventCharacterChosen,
		CharacterID: "kagari",
		Profile:     &domain.ProfilePayload{Score: 12, Grade: domain.GradeFor(12), NextMilestone: 20, Language: "ja"},
	}
	reply, ok := Render(ev, nil)
	if !ok {
		t.Fatal("ожидали сообщение профиля")
	}
	for _, want := range []string{"kagari", "счёт 12", "Следующий порог: 20", "Язык: ja"} {
		if !strings.Contains(reply.Text, want) {
			t.Fatalf("ожидали %q в %q", want, reply.Text)
		}
	}
	ev.Profile = &domain.ProfilePayload{Score: 1000, Grade: domain.GradeFor(1000)}
	reply, _ = Render(ev, nil)
	if strings.Contains(reply.Text, "порог") || strings.Contains(reply.Text, "Язык") {
		t.Fatalf("без порога и языка строки не выводятся: %q", reply.Text)
	}
}
