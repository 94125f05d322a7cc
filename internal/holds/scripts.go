package holds

import "github.com/redis/go-redis/v9"

// releaseScript implements spec.md §4.3 Release/Expire: both are the
// same scripted-atomic sequence, the only difference being whether the
// expiry gate (ARGV[2] >= 0) is enforced. It is also reused by the
// order coordinator's webhook-failure refund (spec.md §4.4.2), which has
// identical semantics to an unconditional Release.
//
// KEYS: 1=hold:h 2=available:p 3=reserved:p 4=version:p 5=active_holds:p
//
//	6=product_holds:p 7=expiring_index:p 8=holds_by_status:active
//
// ARGV: 1=hold_id 2=gate_epoch (-1 disables the expiry gate)
//
// Returns {ok, reason, qty, remaining} where ok is 1/0 and reason is one
// of "ok" | "invalid" | "not_expired" | "invalid_release". For
// "not_expired" the third element is the hold's expires_at_epoch and the
// fourth the seconds remaining; otherwise the fourth is '0'.
var releaseScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'active' then
  return {0, 'invalid', '0', '0'}
end
local gate = tonumber(ARGV[2])
if gate >= 0 then
  local expAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at_epoch'))
  if expAt == nil or expAt > gate then
    local remaining = 0
    if expAt ~= nil then remaining = expAt - gate end
    return {0, 'not_expired', tostring(expAt or 0), tostring(remaining)}
  end
end
local qty = tonumber(redis.call('HGET', KEYS[1], 'qty'))
local reserved = tonumber(redis.call('GET', KEYS[3]) or '0')
if reserved < qty then
  return {0, 'invalid_release', tostring(qty), '0'}
end
redis.call('INCRBY', KEYS[2], qty)
redis.call('DECRBY', KEYS[3], qty)
redis.call('INCR', KEYS[4])
redis.call('DECRBY', KEYS[5], qty)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[6], ARGV[1])
redis.call('ZREM', KEYS[7], ARGV[1])
redis.call('SREM', KEYS[8], ARGV[1])
return {1, 'ok', tostring(qty), '0'}
`)

// commitScript implements the webhook-success scripted-atomic commit of
// spec.md §4.4.2: it leaves available untouched — the units are
// permanently consumed, having already been decremented from the
// durable products.stock column by the caller in the same webhook
// transaction.
//
// KEYS: 1=hold:h 2=reserved:p 3=version:p 4=active_holds:p
//
//	5=product_holds:p 6=expiring_index:p 7=holds_by_status:active
//
// ARGV: 1=hold_id
var commitScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'active' then
  return {0, 'invalid', '0'}
end
local qty = tonumber(redis.call('HGET', KEYS[1], 'qty'))
redis.call('DECRBY', KEYS[2], qty)
redis.call('INCR', KEYS[3])
redis.call('DECRBY', KEYS[4], qty)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[6], ARGV[1])
redis.call('SREM', KEYS[7], ARGV[1])
return {1, 'ok', tostring(qty)}
`)

// bulkExpireScript is the reaper's optimization for two or more expired
// candidates sharing a product (spec.md §4.5): one round-trip, one
// aggregate counter mutation instead of N individual INCRBY/DECRBY
// pairs. Per-hold outcomes are still validated independently — a hold
// a concurrent Release already terminalized is simply skipped, not
// treated as a batch failure.
//
// KEYS: 1=available:p 2=reserved:p 3=version:p 4=active_holds:p
//
//	5=product_holds:p 6=expiring_index:p 7=holds_by_status:active
//	8..8+n-1 = hold:h for each candidate, in the same order as ARGV[2:]
//
// ARGV: 1=now_epoch 2..n+1=hold ids
//
// Returns a flat array of 2 elements per candidate: {ok, qty_or_0}.
var bulkExpireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local n = #ARGV - 1
local total = 0
local out = {}
for i = 1, n do
  local holdKey = KEYS[7 + i]
  local id = ARGV[1 + i]
  local status = redis.call('HGET', holdKey, 'status')
  if status ~= 'active' then
    out[#out+1] = 0
    out[#out+1] = '0'
  else
    local expAt = tonumber(redis.call('HGET', holdKey, 'expires_at_epoch'))
    if expAt == nil or expAt > now then
      out[#out+1] = 0
      out[#out+1] = '0'
    else
      local qty = tonumber(redis.call('HGET', holdKey, 'qty'))
      total = total + qty
      redis.call('DEL', holdKey)
      redis.call('SREM', KEYS[5], id)
      redis.call('ZREM', KEYS[6], id)
      redis.call('SREM', KEYS[7], id)
      out[#out+1] = 1
      out[#out+1] = tostring(qty)
    end
  end
end
if total > 0 then
  redis.call('INCRBY', KEYS[1], total)
  redis.call('DECRBY', KEYS[2], total)
  redis.call('INCR', KEYS[3])
  redis.call('DECRBY', KEYS[4], total)
end
return out
`)
