// Package devserver boots a storydev run: it resolves the collaborators,
// starts index initialization, binds the listener, runs both build
// subsystems and joins the index before handing back a running Server.
package devserver
