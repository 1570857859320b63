package deploymentrepo

// SetBeforePush installs a hook that runs before every push attempt.
func (a *Automator) SetBeforePush(fn func(attempt int) error) {
	a.beforePush = fn
}
