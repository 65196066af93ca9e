package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"whatsapp-gateway/models"
	"whatsapp-gateway/utils"
)

// MediaSink salva gli allegati scaricati nella cartella dei download,
// un file per allegato con nome <id-messaggio>.<estensione>
type MediaSink struct {
	dir string
}

func NewMediaSink(dir string) (*MediaSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("errore nella creazione della directory dei download: %w", err)
	}
	return &MediaSink{dir: dir}, nil
}

func (s *MediaSink) Dir() string {
	return s.dir
}

// Write scrive i byte nel file indicato e restituisce il percorso completo.
// Il file viene prima scritto in un temporaneo e poi rinominato, quindi un
// file esistente con lo stesso nome viene sostituito senza errori.
func (s *MediaSink) Write(filename string, data []byte) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("nome file non valido: %q", filename)
	}

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("errore nella creazione del file temporaneo: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("errore nella scrittura del file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("errore nella chiusura del file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	fullPath := filepath.Join(s.dir, filename)
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("errore nel salvataggio del file: %w", err)
	}
	return fullPath, nil
}

// Lookup restituisce il percorso di un file scaricato; false se il nome non è
// un semplice nome di file o il file non esiste
func (s *MediaSink) Lookup(filename string) (string, bool) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", false
	}
	fullPath := filepath.Join(s.dir, filename)
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	return fullPath, true
}

// List elenca i file scaricati, ordinati per nome
func (s *MediaSink) List() ([]models.DownloadedFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("errore nella lettura della directory dei download: %w", err)
	}

	files := make([]models.DownloadedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, models.DownloadedFile{
			Filename:   entry.Name(),
			Path:       filepath.Join(s.dir, entry.Name()),
			Size:       info.Size(),
			IsVoice:    utils.IsVoiceFile(entry.Name()),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}
