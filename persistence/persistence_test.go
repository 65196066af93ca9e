package persistence

import (
	"path/filepath"
	"testing"

	"whatsapp-gateway/models"
)

func textMessage(id, chat string, ts int64, text string) *models.Message {
	return &models.Message{
		ID:        id,
		ChatID:    chat,
		Sender:    chat,
		Timestamp: ts,
		Kind:      models.KindText,
		Text:      &text,
	}
}

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	return journal, path
}

func TestJournalRecentNewestFirst(t *testing.T) {
	journal, _ := openTestJournal(t)
	defer journal.Close()

	for _, msg := range []*models.Message{
		textMessage("A", "1@s.whatsapp.net", 100, "primo"),
		textMessage("B", "2@s.whatsapp.net", 200, "secondo"),
		textMessage("C", "1@s.whatsapp.net", 300, "terzo"),
	} {
		if err := journal.Deliver(msg); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}

	all, err := journal.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	if all[0].ID != "C" || all[1].ID != "B" || all[2].ID != "A" {
		t.Errorf("unexpected order: %s %s %s", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].Text == nil || *all[0].Text != "terzo" {
		t.Errorf("text not preserved: %v", all[0].Text)
	}

	chat, err := journal.Recent("1@s.whatsapp.net", 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(chat) != 1 || chat[0].ID != "C" {
		t.Errorf("expected only C, got %+v", chat)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	journal, path := openTestJournal(t)
	duration := uint32(7)
	msg := &models.Message{
		ID:        "VOICE1",
		ChatID:    "1@s.whatsapp.net",
		Sender:    "1@s.whatsapp.net",
		Timestamp: 42,
		Kind:      models.KindAudio,
		Media: &models.MediaAttachment{
			Type:        models.KindAudio,
			Path:        "downloads/VOICE1.ogg",
			Size:        3,
			Duration:    &duration,
			IsVoiceNote: true,
			Waveform:    []byte{1, 2, 3},
		},
	}
	if err := journal.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	// Stesso messaggio due volte: nessun duplicato
	if err := journal.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	journal.Close()

	reopened, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	defer reopened.Close()

	messages, err := reopened.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	media := messages[0].Media
	if media == nil || !media.IsVoiceNote || media.Duration == nil || *media.Duration != 7 {
		t.Errorf("media not preserved: %+v", media)
	}
	if messages[0].Text != nil {
		t.Errorf("unexpected text on media message")
	}
}

func TestJournalRecentZeroLimit(t *testing.T) {
	journal, _ := openTestJournal(t)
	defer journal.Close()

	if err := journal.SaveMessage(textMessage("A", "1@s.whatsapp.net", 1, "x")); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	messages, err := journal.Recent("", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected no messages, got %d", len(messages))
	}
}
