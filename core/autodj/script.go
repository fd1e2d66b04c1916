package autodj

import (
	"fmt"
	"time"

	"RadioRoyal/model"
)

// Program steps of the scripted opening block.
const (
	StepOpening = iota
	StepTransition
	StepCuriosity
	StepClosing
	ProgramSteps
)

// Script writes the announcer lines.
type Script struct {
	Station     string
	Host        string
	Curiosities []string
	curiosity   int
	now         func() time.Time
}

// NewScript creates a script for a station and its host.
func NewScript(station, host string) *Script {
	return &Script{
		Station: station,
		Host:    host,
		Curiosities: []string{
			"o primeiro disco de vinil de doze polegadas chegou às lojas em 1948",
			"as primeiras transmissões de rádio no Brasil aconteceram em 1922",
			"uma música de rádio costuma ter entre três e quatro minutos por causa dos antigos discos de 78 rotações",
		},
		now: time.Now,
	}
}

func (s *Script) greeting() string {
	switch h := s.now().Hour(); {
	case h >= 5 && h < 12:
		return "Bom dia"
	case h >= 12 && h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

// Scripted returns the line for a program step announcing next.
func (s *Script) Scripted(step int, next model.Track) string {
	name := next.DisplayName()
	switch step {
	case StepOpening:
		return fmt.Sprintf("%s! Você está na %s, com %s no comando. Para começar, %s.", s.greeting(), s.Station, s.Host, name)
	case StepTransition:
		return fmt.Sprintf("Seguimos com a programação da %s. Agora, %s.", s.Station, name)
	case StepCuriosity:
		if len(s.Curiosities) == 0 {
			return fmt.Sprintf("Na %s, agora: %s.", s.Station, name)
		}
		c := s.Curiosities[s.curiosity%len(s.Curiosities)]
		s.curiosity++
		return fmt.Sprintf("Você sabia? %s. E agora, %s.", c, name)
	case StepClosing:
		return fmt.Sprintf("Obrigado por ficar com a gente. A %s segue sem parar. Na sequência, %s.", s.Station, name)
	}
	return s.AdHoc(next, 0)
}

// AdHoc returns a short handoff line; n rotates the wording.
func (s *Script) AdHoc(next model.Track, n int) string {
	if n%2 == 0 {
		return fmt.Sprintf("Na %s, agora: %s.", s.Station, next.DisplayName())
	}
	return fmt.Sprintf("Continua com a gente: %s, aqui na %s.", next.DisplayName(), s.Station)
}

// ComingUp is the pre-end line spoken over the end of a track.
func (s *Script) ComingUp(next model.Track) string {
	return fmt.Sprintf("Daqui a pouco na %s: %s.", s.Station, next.DisplayName())
}
