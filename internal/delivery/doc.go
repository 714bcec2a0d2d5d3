// Package delivery serialises outbound notifications through a single
// paced worker.
//
// Contract:
//   - Enqueue never blocks and never fails; the pending list is unbounded.
//   - Consecutive successful sends start at least MinInterval apart, and the
//     worker also rests MinInterval after each success.
//   - A rate-limited send goes back to the head and the worker sleeps for
//     the provider's retry-after (DefaultRetryAfter without a hint).
//   - Any other send failure drops the message and is logged.
//   - Observers run synchronously, in send order, only after a confirmed send.
package delivery
