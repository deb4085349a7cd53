// Package speakers manages the voice-clone corpus: speaker records, their
// uploaded reference clips, and the selection logic that picks prompt audio
// for synthesis.
package speakers

import "time"

// Speaker is one cloneable voice. A speaker becomes usable for trained-model
// synthesis once both checkpoint paths are recorded.
type Speaker struct {
	ID                uint64     `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Trained           bool       `gorm:"not null;default:false" json:"trained"`
	GPTWeightsPath    string     `gorm:"size:255" json:"gpt_weights_path,omitempty"`
	SoVITSWeightsPath string     `gorm:"size:255" json:"sovits_weights_path,omitempty"`
	TrainingEpochs    int        `gorm:"not null;default:0" json:"training_epochs"`
	TrainedAt         *time.Time `json:"trained_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	ReferenceAudios []ReferenceAudio `gorm:"foreignKey:SpeakerID;constraint:OnDelete:CASCADE" json:"reference_audios,omitempty"`
}

// TableName sets the storage table for Speaker.
func (Speaker) TableName() string {
	return "speakers"
}

// ReferenceAudio is one uploaded corpus clip for a speaker.
type ReferenceAudio struct {
	ID              uint64    `gorm:"primaryKey" json:"id"`
	SpeakerID       uint64    `gorm:"not null;index" json:"speaker_id"`
	Path            string    `gorm:"size:255;not null" json:"path"`
	OriginalName    string    `gorm:"size:255" json:"original_name"`
	PromptText      string    `gorm:"type:text" json:"prompt_text,omitempty"`
	DurationSeconds float64   `gorm:"not null" json:"duration_seconds"`
	SampleRate      int       `gorm:"not null" json:"sample_rate"`
	Channels        int       `gorm:"not null" json:"channels"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName sets the storage table for ReferenceAudio.
func (ReferenceAudio) TableName() string {
	return "reference_audios"
}

// Summary is the listing shape served by the platform API.
type Summary struct {
	Name       string     `json:"name"`
	AudioCount int        `json:"audio_count"`
	Trained    bool       `json:"trained"`
	CreatedAt  time.Time  `json:"created_at"`
	TrainedAt  *time.Time `json:"trained_at,omitempty"`
}
