package node

// bootstrapNode loads the handler module named by argv[2] and drives one
// invocation over the control pipes:
//   fd 3 (child -> parent): {"type":"loaded"|"load_error"|"call"|"not_function", ...}
//   fd 4 (parent -> child): one {"handler","event","context"} request line
// The process exits on its own once the handler has no pending work.
const bootstrapNode = `'use strict';
const fs = require('fs');
const readline = require('readline');

const CONTROL_OUT = 3;
const CONTROL_IN = 4;

function send(msg) {
  fs.writeSync(CONTROL_OUT, JSON.stringify(msg) + '\n');
}

function errorShape(e) {
  return {
    errorType: e.name || 'Error',
    errorMessage: e.message,
    stackTrace: String(e.stack || '').split('\n').slice(1).map((l) => l.trim()),
  };
}

function encode(v) {
  if (v === undefined) return { kind: 'undefined' };
  if (v instanceof Error) return { kind: 'object', json: errorShape(v) };
  const kind = typeof v;
  if (kind === 'function') return { kind: 'function' };
  if (kind === 'bigint' || kind === 'symbol') return { kind: 'string', json: String(v) };
  let text;
  try {
    text = JSON.stringify(v);
  } catch (e) {
    return { kind: 'string', json: String(v) };
  }
  if (text === undefined) return { kind: 'string', json: String(v) };
  return { kind: kind, json: JSON.parse(text) };
}

function describeExports(mod) {
  const out = {};
  if (mod === null || (typeof mod !== 'object' && typeof mod !== 'function')) return out;
  let obj = mod;
  while (obj && obj !== Object.prototype && obj !== Function.prototype) {
    for (const name of Object.getOwnPropertyNames(obj)) {
      if (name in out) continue;
      try {
        out[name] = typeof mod[name];
      } catch (e) {
        out[name] = 'undefined';
      }
    }
    obj = Object.getPrototypeOf(obj);
  }
  return out;
}

let mod;
try {
  mod = require(process.argv[2]);
} catch (e) {
  send({ type: 'load_error', error: encode(e) });
  process.exit(1);
}

send({ type: 'loaded', exports: describeExports(mod) });

function run(req) {
  const c = req.context || {};
  const call = (method, fields) => send(Object.assign({ type: 'call', method: method }, fields));

  const context = {
    done: (error, result) => call('done', { error: encode(error), result: encode(result) }),
    succeed: (result) => call('succeed', { result: encode(result) }),
    fail: (error) => call('fail', { error: encode(error) }),
    awsRequestId: c.awsRequestId,
    logStreamName: c.logStreamName,
    clientContext: c.clientContext,
    identity: c.identity,
    functionName: c.functionName,
    functionVersion: c.functionVersion,
    invokedFunctionArn: c.invokedFunctionArn,
    memoryLimitInMB: String(c.memoryLimitInMB),
    logGroupName: c.logGroupName,
    callbackWaitsForEmptyEventLoop: true,
    getRemainingTimeInMillis: () => (c.deadlineMs ? Math.max(0, c.deadlineMs - Date.now()) : 0),
  };

  process.on('uncaughtException', (e) => {
    context.fail(e);
    process.exit(1);
  });
  process.on('unhandledRejection', (e) => {
    context.fail(e);
    process.exit(1);
  });

  const fn = mod[req.handler];
  if (typeof fn !== 'function') {
    send({ type: 'not_function', handler: req.handler });
    return;
  }

  let ret;
  try {
    ret = fn.call(mod, req.event, context, context.done);
  } catch (e) {
    context.fail(e);
    return;
  }
  if (ret && typeof ret.then === 'function') {
    ret.then((r) => context.succeed(r), (e) => context.fail(e));
  }
}

const input = fs.createReadStream(null, { fd: CONTROL_IN });
const rl = readline.createInterface({ input: input });
rl.once('line', (line) => {
  rl.close();
  input.destroy();
  run(JSON.parse(line));
});
`
