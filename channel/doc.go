/*
	Package channel implements bidirectional RPC over an asynchronous,
	unordered message transport between two isolated contexts, in the
	manner of window.postMessage.

	Endpoint is the transport. It only knows how to post a serialized message
	to one remote context. Inbound messages reach a Dispatcher as Events.

	Dispatcher is the single shared listener of a context. Many Channels can
	share it: requests and notifications are routed by origin, scope and sender,
	responses, errors and callback invocations are routed by transaction id.
	Every protocol callback runs on the Dispatcher's event loop, one at a time.

	Channel is one context's view of a link to one remote context at one
	origin and scope. Both sides exchange a readiness handshake before user
	traffic flows; calls made before that are queued.

	When a Channel receives a request, its handler gets a Transaction which can
	complete the request, fail it, delay the reply or invoke callbacks that the
	caller passed in its params.
*/
package channel
