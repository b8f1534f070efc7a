package exam

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mashindano/core"
)

var (
	regWindowTag  = "regwindow"
	regWindowText = "registration must close after it opens"

	examWindowTag  = "examwindow"
	examWindowText = "the exam must end after it starts"

	scoreRangeTag  = "scorerange"
	scoreRangeText = "score must be between -99999.99 and 99999.99"
	maxScore       = decimal.New(9999999, -2)

	scorePrecisionTag  = "scoreprecision"
	scorePrecisionText = "score cannot have more than 2 decimal places"
	scorePlaces        = int32(2) // NUMERIC(7, 2)
)

// InitValidators registers the exam validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(examStructValidation, NewExam{}, GradeSubmission{})
	core.RegisterCustomTranslation(validate, translator, regWindowTag, regWindowText)
	core.RegisterCustomTranslation(validate, translator, examWindowTag, examWindowText)
	core.RegisterCustomTranslation(validate, translator, scoreRangeTag, scoreRangeText)
	core.RegisterCustomTranslation(validate, translator, scorePrecisionTag, scorePrecisionText)
}

func examStructValidation(sl validator.StructLevel) {
	switch v := sl.Current().Interface().(type) {
	case NewExam:
		validateWindows(v, sl)
	case GradeSubmission:
		if v.Score == nil {
			return
		}
		switch {
		case v.Score.Abs().GreaterThan(maxScore):
			sl.ReportError(v.Score, "score", "Score", scoreRangeTag, "")
		case !v.Score.Equal(v.Score.Round(scorePlaces)):
			sl.ReportError(v.Score, "score", "Score", scorePrecisionTag, "")
		}
	}
}

// validateWindows checks that both windows close strictly after they open.
func validateWindows(ne NewExam, sl validator.StructLevel) {
	if !ne.RegStartTime.IsZero() && !ne.RegEndTime.IsZero() && !ne.RegStartTime.Before(ne.RegEndTime) {
		sl.ReportError(ne.RegEndTime, "reg_end_time", "RegEndTime", regWindowTag, "")
	}
	if !ne.StartTime.IsZero() && !ne.EndTime.IsZero() && !ne.StartTime.Before(ne.EndTime) {
		sl.ReportError(ne.EndTime, "end_time", "EndTime", examWindowTag, "")
	}
}
