package rpmipc

import "testing"

func TestSortRemoveStepsOldestFirst(t *testing.T) {
	steps := []Step{
		RemoveStep(1, "foo", "2.0", "1", "x86_64"),
		RemoveStep(2, "foo", "1.0", "1", "x86_64"),
		RemoveStep(3, "bar", "5.0", "2", "x86_64"),
	}
	SortRemoveStepsOldestFirst(steps)

	if steps[0].StepID != 2 || steps[1].StepID != 1 {
		t.Fatalf("expected foo 1.0 before foo 2.0, got order %v", []int{steps[0].StepID, steps[1].StepID, steps[2].StepID})
	}
	if !ValidateStepOrder(steps) {
		t.Fatal("expected sorted steps to validate")
	}
}

func TestValidateStepOrderRejectsOutOfOrder(t *testing.T) {
	steps := []Step{
		RemoveStep(1, "foo", "2.0", "1", "x86_64"),
		RemoveStep(2, "foo", "1.0", "1", "x86_64"),
	}
	if ValidateStepOrder(steps) {
		t.Fatal("expected an out-of-order same-name removal pair to fail validation")
	}
}

func TestValidateStepOrderIgnoresInstallSteps(t *testing.T) {
	steps := []Step{
		InstallStep(1, "/tmp/a.rpm", false),
		InstallStep(2, "/tmp/b.rpm", false),
	}
	if !ValidateStepOrder(steps) {
		t.Fatal("install-only steps should always validate")
	}
}
