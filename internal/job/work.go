// SPDX-License-Identifier: MIT

package job

// Job is the unit of work handed to a pipeline handler: the id, the type
// that selects the handler, and the payload captured at submission.
type Job struct {
	ID      string
	Type    Type
	Payload Payload
}
