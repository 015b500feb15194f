package handlers

import (
	"errors"

	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/domain/task"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the enum tags used in request bindings to gin's
// validator. Safe to call more than once.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}

	rules := map[string]validator.Func{
		"role": func(fl validator.FieldLevel) bool {
			_, err := project.ParseRole(fl.Field().String())
			return err == nil
		},
		"projectstatus": func(fl validator.FieldLevel) bool {
			return project.Status(fl.Field().String()).IsValid()
		},
		"taskstatus": func(fl validator.FieldLevel) bool {
			return task.Status(fl.Field().String()).IsValid()
		},
		"priority": func(fl validator.FieldLevel) bool {
			return task.Priority(fl.Field().String()).IsValid()
		},
	}

	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
