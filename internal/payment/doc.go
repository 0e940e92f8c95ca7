// Package payment implements the payment confirmation poller.
//
// A mobile-money checkout is confirmed on the payer's phone, and the provider
// has no push channel back to the client. The Poller initiates the checkout,
// then queries its status on a fixed interval until the provider reports a
// final status, the attempt cap is reached, or the owning scope is disposed:
//
//	Initiating -> PushSent -> Pending ... -> Completed | Failed | Cancelled | TimedOut
//
// A failed initiation goes straight to Failed. Each payment attempt gets its
// own Poller; queries for one checkout never overlap.
package payment
