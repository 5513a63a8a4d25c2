package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/warp/clockd/generic"
)

// Category groups leave codes for reporting.
type Category string

const (
	CategorySickLeave          Category = "SICK_LEAVE"
	CategoryVacation           Category = "VACATION"
	CategoryTimeForTimeAccrual Category = "TIME_FOR_TIME_ACCRUAL"
	CategoryTimeForTimeUsage   Category = "TIME_FOR_TIME_USAGE"
	CategorySpecialLeave       Category = "SPECIAL_LEAVE"
	CategoryPublicHoliday      Category = "PUBLIC_HOLIDAY"
	CategoryFrostDelay         Category = "FROST_DELAY"
	CategorySingleDayLeave     Category = "SINGLE_DAY_LEAVE"
	CategoryScheduledFree      Category = "SCHEDULED_FREE"
	CategoryMedicalAppointment Category = "MEDICAL_APPOINTMENT"
	CategoryOtherAbsence       Category = "OTHER_ABSENCE"
	CategoryUnknown            Category = "UNKNOWN"

	// CategoryWork is used by the aggregator for non-leave tasks.
	CategoryWork Category = "WORK"
)

var prefixCategories = []struct {
	prefix   string
	category Category
}{
	{"Z20", CategorySickLeave},
	{"Z22", CategorySickLeave},
	{"Z05", CategoryVacation},
	{"Z09", CategoryVacation},
	{"Z08", CategoryTimeForTimeAccrual},
	{"Z06", CategorySpecialLeave},
	{"Z10", CategoryPublicHoliday},
	{"Z11", CategoryFrostDelay},
	{"Z04", CategorySingleDayLeave},
	{"Z03", CategoryScheduledFree},
	{"Z21", CategoryMedicalAppointment},
}

// Classify maps a task code to its leave category. Codes are matched
// case-insensitively on their prefix.
func Classify(code string) Category {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return CategoryUnknown
	}
	for _, pc := range prefixCategories {
		if strings.HasPrefix(c, pc.prefix) {
			return pc.category
		}
	}
	if strings.HasPrefix(c, "Z") {
		return CategoryOtherAbsence
	}
	return CategoryUnknown
}

// IsLeaveCode reports whether code is a leave task code (Z prefix).
func IsLeaveCode(code string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(code)), "Z")
}

// TaskGetter is the single lookup TaskCode needs.
type TaskGetter interface {
	GetTask(ctx context.Context, id generic.TaskID) (Task, error)
}

// TaskCode resolves the code of task id. A task missing from the catalog
// is known by its id.
func TaskCode(ctx context.Context, tasks TaskGetter, id generic.TaskID) (string, error) {
	task, err := tasks.GetTask(ctx, id)
	switch {
	case err == nil:
		return task.Code, nil
	case errors.Is(err, generic.ErrNotFound):
		return string(id), nil
	default:
		return "", err
	}
}
