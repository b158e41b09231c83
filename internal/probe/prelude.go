package probe

// playbackPreludeJS gives page scripts just enough of a browser to start a player.
// Every network call point funnels into __siphonRequest so the intercepting
// client observes it; media elements funnel into __siphonPlay.
const playbackPreludeJS = `
var globalThis = this;
var window = this;
var self = this;
var location = __siphonLocation;
var navigator = { userAgent: __siphonUserAgent, language: 'en-US', languages: ['en-US'], onLine: true };
var console = { log: __siphonLog, info: __siphonLog, warn: __siphonLog, error: __siphonLog, debug: __siphonLog };

var __timerSeq = 0;
var __timers = [];
function setTimeout(fn, ms) {
  var id = ++__timerSeq;
  if (typeof fn === 'function') {
    __timers.push({ id: id, fn: fn, args: Array.prototype.slice.call(arguments, 2) });
  }
  return id;
}
function clearTimeout(id) {
  for (var i = 0; i < __timers.length; i++) {
    if (__timers[i].id === id) { __timers.splice(i, 1); return; }
  }
}
var setInterval = setTimeout;
var clearInterval = clearTimeout;
function requestAnimationFrame(fn) { return setTimeout(fn, 16); }
function __siphonDrain(limit) {
  var n = 0;
  while (__timers.length > 0 && n < limit) {
    var t = __timers.shift();
    n++;
    try { t.fn.apply(window, t.args); } catch (e) { console.log('timer error: ' + e); }
  }
  return __timers.length;
}

function __headers(h) {
  return {
    get: function (name) { var v = h[String(name).toLowerCase()]; return v === undefined ? null : v; },
    has: function (name) { return h[String(name).toLowerCase()] !== undefined; }
  };
}
function __response(r) {
  return {
    ok: r.status >= 200 && r.status < 300,
    status: r.status,
    url: r.url,
    headers: __headers(r.headers),
    text: function () { return Promise.resolve(r.body); },
    json: function () { return new Promise(function (resolve) { resolve(JSON.parse(r.body)); }); },
    clone: function () { return __response(r); }
  };
}
function fetch(input, init) {
  var url = typeof input === 'string' ? input : (input && input.url) || String(input);
  var method = (init && init.method) || (input && input.method) || 'GET';
  var body = init && init.body !== undefined && init.body !== null ? String(init.body) : '';
  try {
    return Promise.resolve(__response(__siphonRequest(method, url, body)));
  } catch (e) {
    return Promise.reject(new TypeError('Failed to fetch: ' + e));
  }
}

function XMLHttpRequest() {
  this.readyState = 0;
  this.status = 0;
  this.responseText = '';
  this.response = '';
  this._headers = {};
  this._listeners = {};
}
XMLHttpRequest.prototype.open = function (method, url) { this._method = method; this._url = url; this.readyState = 1; };
XMLHttpRequest.prototype.setRequestHeader = function () {};
XMLHttpRequest.prototype.abort = function () { this._aborted = true; };
XMLHttpRequest.prototype.addEventListener = function (type, fn) {
  (this._listeners[type] = this._listeners[type] || []).push(fn);
};
XMLHttpRequest.prototype.getResponseHeader = function (name) {
  var v = this._headers[String(name).toLowerCase()];
  return v === undefined ? null : v;
};
XMLHttpRequest.prototype._fire = function (type) {
  var ev = { type: type, target: this };
  if (typeof this['on' + type] === 'function') { this['on' + type](ev); }
  var ls = this._listeners[type] || [];
  for (var i = 0; i < ls.length; i++) { ls[i].call(this, ev); }
};
XMLHttpRequest.prototype.send = function (body) {
  var xhr = this;
  setTimeout(function () {
    if (xhr._aborted) { return; }
    try {
      var r = __siphonRequest(xhr._method || 'GET', xhr._url, body === undefined || body === null ? '' : String(body));
      xhr.status = r.status;
      xhr.responseURL = r.url;
      xhr._headers = r.headers;
      xhr.responseText = r.body;
      xhr.response = r.body;
      xhr.readyState = 4;
      xhr._fire('readystatechange');
      xhr._fire('load');
    } catch (e) {
      xhr.readyState = 4;
      xhr._fire('error');
    }
    xhr._fire('loadend');
  }, 0);
};

var __media = [];
function __Element(tag) {
  this.tagName = String(tag).toUpperCase();
  this.attributes = {};
  this.children = [];
  this.style = {};
  this.src = '';
  this.muted = false;
  this.volume = 1;
}
__Element.prototype.setAttribute = function (name, value) {
  this.attributes[name] = String(value);
  if (name === 'src') { this.src = String(value); }
};
__Element.prototype.getAttribute = function (name) {
  return this.attributes[name] === undefined ? null : this.attributes[name];
};
__Element.prototype.appendChild = function (child) { this.children.push(child); return child; };
__Element.prototype.removeChild = function (child) { return child; };
__Element.prototype.addEventListener = function () {};
__Element.prototype.removeEventListener = function () {};
__Element.prototype.load = function () {};
__Element.prototype.pause = function () {};
__Element.prototype.canPlayType = function () { return 'maybe'; };
__Element.prototype.play = function () {
  this.muted = true;
  this.volume = 0;
  var sources = [];
  if (this.src) { sources.push(this.src); }
  for (var i = 0; i < this.children.length; i++) {
    if (this.children[i].src) { sources.push(this.children[i].src); }
  }
  for (var j = 0; j < sources.length; j++) { __siphonPlay(sources[j]); }
  return Promise.resolve();
};

function __matches(el, selector) {
  var parts = String(selector).toLowerCase().split(',');
  for (var i = 0; i < parts.length; i++) {
    if (parts[i].trim() === el.tagName.toLowerCase()) { return true; }
  }
  return false;
}
var document = {
  readyState: 'complete',
  cookie: '',
  body: new __Element('body'),
  head: new __Element('head'),
  createElement: function (tag) {
    var el = new __Element(tag);
    if (el.tagName === 'VIDEO' || el.tagName === 'AUDIO' || el.tagName === 'SOURCE') { __media.push(el); }
    return el;
  },
  querySelectorAll: function (selector) {
    return __media.filter(function (el) { return __matches(el, selector); });
  },
  querySelector: function (selector) { return document.querySelectorAll(selector)[0] || null; },
  getElementsByTagName: function (tag) { return document.querySelectorAll(tag); },
  getElementById: function () { return null; },
  addEventListener: function () {},
  removeEventListener: function () {}
};
window.addEventListener = function () {};
window.removeEventListener = function () {};

function __siphonDeclare(tag, src) {
  var el = document.createElement(tag);
  el.setAttribute('src', src);
  return el;
}
function __siphonAutoplay() {
  var played = 0;
  for (var i = 0; i < __media.length; i++) {
    var el = __media[i];
    if (el.tagName === 'SOURCE') { continue; }
    el.play();
    played++;
  }
  for (var j = 0; j < __media.length; j++) {
    if (__media[j].tagName === 'SOURCE' && __media[j].src) { __siphonPlay(__media[j].src); played++; }
  }
  return played;
}
`
