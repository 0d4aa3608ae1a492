package config

import (
	"fmt"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// Sentinel errors for report configuration validation. Each wraps one of
// the contracts configuration errors.
var (
	// ErrConfigEmpty is returned when the config data is empty (zero bytes).
	ErrConfigEmpty = fmt.Errorf("report configuration is empty: %w", contracts.ErrConfiguration)

	// ErrManagerMissing is returned when manager is empty.
	ErrManagerMissing = fmt.Errorf("manager is required: %w", contracts.ErrMissingKey)

	// ErrManagerInvalid is returned when manager names no registered data source.
	ErrManagerInvalid = fmt.Errorf("unknown manager: %w", contracts.ErrInvalidClass)

	// ErrManagerParamsMissing is returned when the object named by manager is absent.
	ErrManagerParamsMissing = fmt.Errorf("manager parameters are required: %w", contracts.ErrMissingKey)

	// ErrReportingMissing is returned when reporting is empty.
	ErrReportingMissing = fmt.Errorf("reporting is required: %w", contracts.ErrMissingKey)

	// ErrReportingInvalid is returned when reporting names no registered renderer.
	ErrReportingInvalid = fmt.Errorf("unknown reporting: %w", contracts.ErrInvalidClass)

	// ErrTitleEmpty is returned when report.title is empty.
	ErrTitleEmpty = fmt.Errorf("report.title is required: %w", contracts.ErrMissingKey)

	// ErrNoSections is returned when report.sections is empty.
	ErrNoSections = fmt.Errorf("report.sections must not be empty: %w", contracts.ErrMissingKey)

	// ErrStructureTypeInvalid is returned when a structure has an unknown type.
	ErrStructureTypeInvalid = fmt.Errorf("unknown structure type: %w", contracts.ErrInvalidModule)

	// ErrStructureNameDuplicate is returned when two structures share a name.
	ErrStructureNameDuplicate = fmt.Errorf("duplicate structure name: %w", contracts.ErrConfiguration)

	// ErrDependencyNotFound is returned when wait_for references an unknown structure name.
	ErrDependencyNotFound = fmt.Errorf("wait_for references unknown structure: %w", contracts.ErrConfiguration)

	// ErrCycleDetected is returned when wait_for edges form a cycle.
	ErrCycleDetected = fmt.Errorf("cycle detected in wait_for: %w", contracts.ErrConfiguration)

	// ErrReplacementInvalid is returned when a replacement has no name or an unknown type.
	ErrReplacementInvalid = fmt.Errorf("invalid replacement: %w", contracts.ErrConfiguration)

	// ErrPolicyInvalid is returned when a policy value is negative.
	ErrPolicyInvalid = fmt.Errorf("policy values must not be negative: %w", contracts.ErrConfiguration)

	// ErrJenkinsInvalid is returned when the jenkins section lacks url or job.
	ErrJenkinsInvalid = fmt.Errorf("jenkins.url and jenkins.job are required: %w", contracts.ErrMissingKey)

	// ErrNotFound is returned when discovery finds no configuration file and
	// the built-in default is disabled.
	ErrNotFound = fmt.Errorf("no configuration file found: %w", contracts.ErrConfiguration)
)
