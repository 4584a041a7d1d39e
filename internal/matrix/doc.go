// Package matrix lets human participants follow and steer conversations
// from Matrix rooms.
//
// Each configured room is bound to one conversation. The relay subscribes to
// runtime events and mirrors appended messages into the bound rooms as
// "Name: content" lines; system messages are prefixed with "* ". Human
// messages whose sender is a Matrix user ID are not echoed back.
//
// Text typed in a bound room by an allowed user becomes a human message in
// the conversation, delivered once per Matrix event ID. Lines starting with
// the command prefix (default "!") are control commands:
//
//	!start            start the conversation
//	!pause [reason]   pause turn-taking
//	!resume           resume turn-taking
//	!stop             end the conversation
//	!status           show the runtime status
//	!help             list commands
//
// An empty allowed_users list accepts every room member.
package matrix
