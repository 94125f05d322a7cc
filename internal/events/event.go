// Package events implements orders.EventPublisher over RabbitMQ,
// adapted from the teacher's internal/queue and
// internal/service/queue_publisher.go: one queue, one event type,
// dial-per-publish with persistent delivery.
package events

const queueName = "order.finalized"
