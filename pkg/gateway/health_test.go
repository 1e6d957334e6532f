package gateway

import "testing"

func TestStabilityFor(t *testing.T) {
	cases := []struct {
		messages, errs int
		want           string
	}{
		{0, 0, "idle"},
		{5, 0, "healthy"},
		{5, 1, "degraded"},
		{5, 5, "unstable"},
		{0, 5, "unstable"},
	}

	for _, tc := range cases {
		if got := stabilityFor(tc.messages, tc.errs); got != tc.want {
			t.Errorf("stabilityFor(%d, %d) = %q, want %q", tc.messages, tc.errs, got, tc.want)
		}
	}
}

func TestChannelHealthTracker_CountsMessagesAndErrors(t *testing.T) {
	tr := newChannelHealthTracker()

	tr.RecordMessage("telegram")
	tr.RecordMessage("telegram")
	tr.RecordError("telegram")

	messages, errs := tr.Counts("telegram")
	if messages != 2 {
		t.Errorf("expected 2 messages, got %d", messages)
	}
	if errs != 1 {
		t.Errorf("expected 1 error, got %d", errs)
	}
}

func TestChannelHealthTracker_UnknownChannelIsIdle(t *testing.T) {
	tr := newChannelHealthTracker()

	messages, errs := tr.Counts("whatsapp")
	if messages != 0 || errs != 0 {
		t.Errorf("expected zero counts for untouched channel, got messages=%d errs=%d", messages, errs)
	}
	if stabilityFor(messages, errs) != "idle" {
		t.Error("expected untouched channel to be idle")
	}
}
