package config

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

type validatorSvc struct {
	v     *validator.Validate
	trans ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

func getValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// report yaml key names, not Go field names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("yaml")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("selection", validSelection)
		_ = v.RegisterValidation("symmetry", validSymmetry)
		registerMessage(v, trans, "selection", "{0} must use digits, '-', ',' and ';' only")
		registerMessage(v, trans, "symmetry", "{0} must be a known symmetry name")

		vSvc = &validatorSvc{v: v, trans: trans}
	})
	return vSvc
}

func registerMessage(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(u ut.Translator) error {
			return u.Add(tag, text, true)
		},
		func(u ut.Translator, fe validator.FieldError) string {
			msg, _ := u.T(tag, fe.Field())
			return msg
		},
	)
}

// validSelection accepts the character set of the selection grammar.
// Bounds are checked against axis lengths when the selection is parsed.
func validSelection(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		switch {
		case r >= '0' && r <= '9':
		case r == '-', r == ',', r == ';', r == ' ':
		default:
			return false
		}
	}
	return true
}

func validSymmetry(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, ok := models.SymmetryByName(s)
	return ok
}

// Validate checks struct constraints and the files required by enabled
// stages. The first violation is returned as a validation error naming the
// offending field.
func (c *Config) Validate() error {
	svc := getValidator()
	if err := svc.v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return perr.WithField(perr.New(perr.CodeValidation, fe.Translate(svc.trans)), fieldPath(fe.Namespace()))
		}
		return perr.Wrap(err, perr.CodeValidation, "validation error")
	}

	if c.Flags.Background && c.Background.File == "" {
		return perr.Configf("background.file", "background subtraction enabled without a background file")
	}
	if c.Flags.DetectorResponse && c.DetectorResponse.File == "" {
		return perr.Configf("detectorResponse.file", "detector response enabled without a response file")
	}
	if c.Flags.Mask && c.Mask.File == "" {
		return perr.Configf("mask.file", "mask enabled without a mask file")
	}
	if c.Flags.Sector && c.Processing.DetectorDim != 2 {
		return perr.Configf("processing.detectorDim", "sector integration needs a 2D detector, got %d", c.Processing.DetectorDim)
	}
	if c.Flags.Sector && !c.Flags.Radial && !c.Flags.Azimuthal {
		return perr.Configf("flags.enableRadial", "sector integration enabled with neither radial nor azimuthal profiles")
	}
	if c.Normalisation.UseSampleThickness && c.Normalisation.SampleThickness <= 0 {
		return perr.Configf("normalisation.sampleThickness", "sample thickness must be positive when used")
	}
	return nil
}

// fieldPath drops the root type from a validator namespace
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
