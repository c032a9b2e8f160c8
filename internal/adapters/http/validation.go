package http

import (
	"sync"

	"github.com/dkeye/devrooms/internal/domain"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var registerOnce sync.Once

// registerValidators adds the `skill` tag to gin's binding validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		err := v.RegisterValidation("skill", func(fl validator.FieldLevel) bool {
			_, err := domain.ParseSkillLevel(fl.Field().String())
			return err == nil
		})
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("register skill validation")
		}
	})
}

type createRoomRequest struct {
	Title           string   `json:"title" binding:"required,max=120"`
	Description     string   `json:"description" binding:"max=2000"`
	Tags            []string `json:"tags" binding:"max=20,dive,max=40"`
	TechStack       []string `json:"techStack" binding:"required,min=1,max=20,dive,max=40"`
	SkillLevel      string   `json:"skillLevel" binding:"omitempty,skill"`
	GithubLink      string   `json:"githubLink" binding:"omitempty,url"`
	MaxParticipants int      `json:"maxParticipants" binding:"required"`
}

func (r createRoomRequest) spec() domain.RoomSpec {
	return domain.RoomSpec{
		Title:           r.Title,
		Description:     r.Description,
		Tags:            r.Tags,
		TechStack:       r.TechStack,
		SkillLevel:      r.SkillLevel,
		GithubLink:      r.GithubLink,
		MaxParticipants: r.MaxParticipants,
	}
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type tokenRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}
