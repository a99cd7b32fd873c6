// Package engine orchestrates experiment containers. Launchers create and
// start k6 traffic jobs and pumba network-delay injections through a
// runtime.Runtime and publish active records into the registry. A detached
// monitor per container, the stop handler and the expiry sweeper then race
// to finalize each record; the registry's conditional update lets exactly
// one of them win.
package engine
