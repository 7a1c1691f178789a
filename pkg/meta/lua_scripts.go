// pkg/meta/lua_scripts.go

package meta

// scriptRange returns the encoded records of an index group whose order
// scores are within [ARGV[1], ARGV[2]], in score order.
const scriptRange = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[2])
local out = {}
for i = 1, #ids, 512 do
    local batch = {}
    for j = i, math.min(i + 511, #ids) do
        batch[#batch + 1] = ids[j]
    end
    local docs = redis.call('HMGET', KEYS[2], unpack(batch))
    for k = 1, #docs do
        if docs[k] then
            out[#out + 1] = docs[k]
        end
    end
end
return out
`
