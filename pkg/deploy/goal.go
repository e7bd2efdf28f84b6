package deploy

// Goal is the user-requested terminal stage of the deployment pipeline.
type Goal string

const (
	GoalBuild       Goal = "build"
	GoalPush        Goal = "push"
	GoalSwitch      Goal = "switch"
	GoalBoot        Goal = "boot"
	GoalTest        Goal = "test"
	GoalDryActivate Goal = "dry-activate"
	GoalKeys        Goal = "keys"
)

// ParseGoal validates a goal string, the way apply.rs's clap possible_values did.
func ParseGoal(s string) (Goal, bool) {
	switch Goal(s) {
	case GoalBuild, GoalPush, GoalSwitch, GoalBoot, GoalTest, GoalDryActivate, GoalKeys:
		return Goal(s), true
	}
	return "", false
}

// IsRealGoal reports whether this is a goal a Host's activate() implements
// (i.e. not an internal marker value).
func (g Goal) IsRealGoal() bool {
	switch g {
	case GoalSwitch, GoalBoot, GoalTest, GoalDryActivate:
		return true
	}
	return false
}

// RequiresTargetHost is false only for build.
func (g Goal) RequiresTargetHost() bool { return g != GoalBuild }

// ShouldSwitchProfile is true for switch and boot: these goals must first
// point the system profile symlink at the new path before invoking the
// activation command.
func (g Goal) ShouldSwitchProfile() bool { return g == GoalSwitch || g == GoalBoot }

// SkipsPush reports whether the Pushing stage should be skipped for this goal.
func (g Goal) SkipsPush() bool { return g == GoalBuild || g == GoalKeys }

// SkipsActivate reports whether the Activating stage should be skipped for this goal.
func (g Goal) SkipsActivate() bool { return g == GoalBuild || g == GoalPush || g == GoalKeys }

// KeysOnly reports whether this goal stops after the pre-activation key
// upload (skipping Pushing and Activating entirely).
func (g Goal) KeysOnly() bool { return g == GoalKeys }
